package parallel

import "fmt"

// NoParent is the parent id of root tasks. Task ids start at 1.
const NoParent = 0

// Task is a command waiting on at most one parent task.
type Task struct {
	ID            int
	WaitForTaskID int
	Command       Command
}

func (t *Task) String() string {
	return fmt.Sprintf("task %d (waits for %d, %T)", t.ID, t.WaitForTaskID, t.Command)
}

// WaitingTaskList files tasks under the id of the task they wait for.
// Insertion order within one parent is preserved.
type WaitingTaskList struct {
	waiting map[int][]*Task
}

// NewWaitingTaskList returns an empty list.
func NewWaitingTaskList() *WaitingTaskList {
	return &WaitingTaskList{waiting: make(map[int][]*Task)}
}

// Add files t under t.WaitForTaskID.
func (l *WaitingTaskList) Add(t *Task) {
	l.waiting[t.WaitForTaskID] = append(l.waiting[t.WaitForTaskID], t)
}

// NextTasks returns the tasks waiting on parentID without removing them.
func (l *WaitingTaskList) NextTasks(parentID int) []*Task {
	return l.waiting[parentID]
}

// Len returns the total number of tasks in the list.
func (l *WaitingTaskList) Len() int {
	n := 0
	for _, tasks := range l.waiting {
		n += len(tasks)
	}
	return n
}

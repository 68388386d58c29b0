package parallel

import (
	"context"

	"github.com/rs/zerolog"
)

// Runner drives a task graph to completion on an Executor.
type Runner struct {
	workers int
	opts    []Option
	logger  zerolog.Logger

	waiting *WaitingTaskList
	lastID  int
}

// NewRunner returns a Runner that executes at most workers tasks at a time.
func NewRunner(workers int, opts ...Option) *Runner {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Runner{
		workers: workers,
		opts:    opts,
		logger:  o.logger,
		waiting: NewWaitingTaskList(),
	}
}

// Add registers cmd to run after the task parentID and returns the new task id.
// Use NoParent for root tasks.
func (r *Runner) Add(parentID int, cmd Command) int {
	r.lastID++
	r.waiting.Add(&Task{ID: r.lastID, WaitForTaskID: parentID, Command: cmd})
	return r.lastID
}

// NextTasks returns the tasks waiting on finishedID.
func (r *Runner) NextTasks(finishedID int) []*Task {
	return r.waiting.NextTasks(finishedID)
}

// Run executes every registered task. Children receive their parent's
// result. The first failure stops the run and is returned.
func (r *Runner) Run(ctx context.Context) error {
	e := NewExecutor(r.workers, r.opts...)
	defer e.Close()

	for _, t := range r.NextTasks(NoParent) {
		if err := e.AddTask(t, nil); err != nil {
			return err
		}
	}

	for !e.IsDone() {
		finished, err := e.WaitForTasks(ctx)
		if err != nil {
			return err
		}
		for _, f := range finished {
			for _, child := range r.NextTasks(f.Task.ID) {
				if err := e.AddTask(child, f.Result); err != nil {
					return err
				}
			}
		}
	}
	r.logger.Debug().Int("tasks", r.lastID).Msg("task graph complete")
	return nil
}

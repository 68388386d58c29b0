package parallel

import "fmt"

// TaskError is a worker failure carried back to the controller.
type TaskError struct {
	TaskID  int
	Message string
	Panic   bool

	err error
}

func (e *TaskError) Error() string {
	if e.Panic {
		return fmt.Sprintf("task %d panicked: %s", e.TaskID, e.Message)
	}
	return fmt.Sprintf("task %d failed: %s", e.TaskID, e.Message)
}

// Unwrap returns the error returned by Run, or nil for panics.
func (e *TaskError) Unwrap() error {
	return e.err
}

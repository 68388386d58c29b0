package parallel

import "context"

// Command is one unit of work in the task graph.
//
// BeforeRun, CreateContext, AfterRun and OnMessage are called from the
// controller goroutine, so they may touch controller state without locking.
// Run is called on a worker goroutine and must only use the value returned
// by CreateContext.
type Command interface {
	// BeforeRun receives the parent task's result, or nil for root tasks.
	BeforeRun(parentResult any)

	// CreateContext returns the input for Run. m delivers progress messages
	// from the worker back to OnMessage.
	CreateContext(m Messenger) any

	// Run does the background work.
	Run(ctx context.Context, taskContext any) (any, error)

	// AfterRun receives the value returned by Run.
	AfterRun(result any)

	// OnMessage receives data sent through the Messenger.
	OnMessage(data any)
}

// Messenger sends progress messages from a worker to the controller.
type Messenger interface {
	Send(data any)
}

// BaseCommand provides no-op hooks for embedding.
type BaseCommand struct{}

func (BaseCommand) BeforeRun(any) {}
func (BaseCommand) CreateContext(Messenger) any { return nil }
func (BaseCommand) AfterRun(any) {}
func (BaseCommand) OnMessage(any) {}

// FuncCommand adapts a plain function into a Command.
type FuncCommand struct {
	BaseCommand
	Fn func(ctx context.Context) (any, error)
}

func (c *FuncCommand) Run(ctx context.Context, _ any) (any, error) {
	return c.Fn(ctx)
}

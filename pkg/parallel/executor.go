package parallel

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultMessageBuffer is the capacity of the worker to controller message channel.
const DefaultMessageBuffer = 1024

// ErrClosed is returned when tasks are added to a closed Executor.
var ErrClosed = errors.New("parallel: executor closed")

// Option configures an Executor or Runner.
type Option func(*options)

type options struct {
	logger        zerolog.Logger
	messageBuffer int
}

func defaultOptions() options {
	return options{logger: zerolog.Nop(), messageBuffer: DefaultMessageBuffer}
}

// WithLogger sets the logger used for dispatch events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMessageBuffer sets the capacity of the message channel.
func WithMessageBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.messageBuffer = n
		}
	}
}

// Finished pairs a task with the value its Run returned.
type Finished struct {
	Task   *Task
	Result any
}

type queuedTask struct {
	task         *Task
	parentResult any
}

type taskResult struct {
	taskID int
	result any
	err    error
}

type taskMessage struct {
	taskID int
	data   any
}

// Executor runs up to tasksAtOnce commands concurrently.
//
// All methods must be called from a single controller goroutine.
type Executor struct {
	tasksAtOnce int
	logger      zerolog.Logger

	queue   []queuedTask
	running map[int]*Task

	results  chan taskResult
	messages chan taskMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	err    error
	closed bool
}

// NewExecutor returns an Executor that runs at most tasksAtOnce tasks at a time.
func NewExecutor(tasksAtOnce int, opts ...Option) *Executor {
	if tasksAtOnce < 1 {
		tasksAtOnce = 1
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		tasksAtOnce: tasksAtOnce,
		logger:      o.logger,
		running:     make(map[int]*Task),
		results:     make(chan taskResult, tasksAtOnce),
		messages:    make(chan taskMessage, o.messageBuffer),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// AddTask queues t. parentResult is handed to the command's BeforeRun.
func (e *Executor) AddTask(t *Task, parentResult any) error {
	if e.closed {
		return ErrClosed
	}
	e.queue = append(e.queue, queuedTask{task: t, parentResult: parentResult})
	return nil
}

// IsDone reports whether nothing is queued and nothing is running.
func (e *Executor) IsDone() bool {
	return len(e.queue) == 0 && len(e.running) == 0
}

// Pending returns the number of running tasks.
func (e *Executor) Pending() int {
	return len(e.running)
}

// StartTasks dispatches queued tasks until the concurrency limit is reached.
// BeforeRun and CreateContext run here, in the caller's goroutine.
func (e *Executor) StartTasks() {
	for e.err == nil && len(e.running) < e.tasksAtOnce && len(e.queue) > 0 {
		q := e.queue[0]
		e.queue[0] = queuedTask{}
		e.queue = e.queue[1:]

		cmd := q.task.Command
		cmd.BeforeRun(q.parentResult)
		taskContext := cmd.CreateContext(&messenger{taskID: q.task.ID, ch: e.messages, ctx: e.ctx})

		e.running[q.task.ID] = q.task
		e.logger.Debug().Int("task", q.task.ID).Int("running", len(e.running)).Msg("dispatching task")

		e.wg.Add(1)
		go e.work(q.task.ID, cmd, taskContext)
	}
}

func (e *Executor) work(taskID int, cmd Command, taskContext any) {
	defer e.wg.Done()

	res := taskResult{taskID: taskID}
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.err = &TaskError{
					TaskID:  taskID,
					Message: fmt.Sprintf("%v\n%s", r, debug.Stack()),
					Panic:   true,
				}
			}
		}()
		res.result, res.err = cmd.Run(e.ctx, taskContext)
	}()

	if res.err != nil {
		var te *TaskError
		if !errors.As(res.err, &te) || te.TaskID != taskID {
			res.err = &TaskError{TaskID: taskID, Message: res.err.Error(), err: res.err}
		}
	}
	// results has room for every running task, so this never blocks.
	e.results <- res
}

// WaitForTasks dispatches queued tasks and blocks until at least one has
// finished or the executor is done. AfterRun is called for every returned
// task before WaitForTasks returns. A failed task cancels all running
// siblings and its *TaskError is returned.
func (e *Executor) WaitForTasks(ctx context.Context) ([]Finished, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.StartTasks()

	for !e.IsDone() {
		select {
		case <-ctx.Done():
			e.abort(ctx.Err())
			return nil, e.err
		case m := <-e.messages:
			e.deliver(m)
		case r := <-e.results:
			finished := e.collect(r, nil)
			for more := true; more; {
				select {
				case r := <-e.results:
					finished = e.collect(r, finished)
				default:
					more = false
				}
			}
			if e.err != nil {
				return nil, e.err
			}
			return finished, nil
		}
	}
	return nil, nil
}

// collect delivers the messages sent before r and then completes it.
func (e *Executor) collect(r taskResult, finished []Finished) []Finished {
	e.drainMessages()

	t, ok := e.running[r.taskID]
	if !ok {
		return finished
	}
	delete(e.running, r.taskID)

	if e.err != nil {
		return finished
	}
	if r.err != nil {
		e.logger.Debug().Int("task", r.taskID).Err(r.err).Msg("task failed, cancelling run")
		e.abort(r.err)
		return finished
	}

	t.Command.AfterRun(r.result)
	return append(finished, Finished{Task: t, Result: r.result})
}

func (e *Executor) drainMessages() {
	for {
		select {
		case m := <-e.messages:
			e.deliver(m)
		default:
			return
		}
	}
}

func (e *Executor) deliver(m taskMessage) {
	if t, ok := e.running[m.taskID]; ok {
		t.Command.OnMessage(m.data)
	}
}

func (e *Executor) abort(err error) {
	if e.err == nil {
		e.err = err
	}
	e.queue = nil
	e.cancel()
}

// Close cancels any running tasks and waits for their goroutines to exit.
// It returns the error that ended the run, if any.
func (e *Executor) Close() error {
	if !e.closed {
		e.closed = true
		e.cancel()
		e.wg.Wait()
	}
	return e.err
}

type messenger struct {
	taskID int
	ch     chan<- taskMessage
	ctx    context.Context
}

// Send blocks until the controller has room for the message or the run is
// cancelled.
func (m *messenger) Send(data any) {
	select {
	case m.ch <- taskMessage{taskID: m.taskID, data: data}:
	case <-m.ctx.Done():
	}
}

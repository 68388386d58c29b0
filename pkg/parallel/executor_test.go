package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingCommand returns value from Run and records every hook call.
type recordingCommand struct {
	value any
	run   func(ctx context.Context, m Messenger) (any, error)

	parentResult any
	result       any
	messages     []any
	beforeRuns   int
	afterRuns    int
	messenger    Messenger
}

func (c *recordingCommand) BeforeRun(parentResult any) {
	c.beforeRuns++
	c.parentResult = parentResult
}

func (c *recordingCommand) CreateContext(m Messenger) any {
	c.messenger = m
	return c.messenger
}

func (c *recordingCommand) Run(ctx context.Context, taskContext any) (any, error) {
	if c.run != nil {
		return c.run(ctx, taskContext.(Messenger))
	}
	return c.value, nil
}

func (c *recordingCommand) AfterRun(result any) {
	c.afterRuns++
	c.result = result
}

func (c *recordingCommand) OnMessage(data any) {
	c.messages = append(c.messages, data)
}

func TestRunnerIndependentRoots(t *testing.T) {
	a := &recordingCommand{value: "a"}
	b := &recordingCommand{value: "b"}

	r := NewRunner(2)
	r.Add(NoParent, a)
	r.Add(NoParent, b)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, "a", a.result)
	assert.Equal(t, "b", b.result)
	assert.Nil(t, a.parentResult)
	assert.Nil(t, b.parentResult)
	assert.Equal(t, 1, a.beforeRuns)
	assert.Equal(t, 1, a.afterRuns)
}

func TestRunnerChildSeesParentResult(t *testing.T) {
	parent := &recordingCommand{value: 41}
	other := &recordingCommand{value: "unrelated"}
	child := &recordingCommand{}
	child.run = func(context.Context, Messenger) (any, error) { return "child", nil }

	r := NewRunner(4)
	p := r.Add(NoParent, parent)
	r.Add(NoParent, other)
	r.Add(p, child)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 41, child.parentResult)
	assert.Equal(t, "child", child.result)
	assert.Equal(t, 1, child.beforeRuns)
	assert.Equal(t, 1, child.afterRuns)
}

func TestRunnerChain(t *testing.T) {
	var order []int
	var mu sync.Mutex
	step := func(n int) *FuncCommand {
		return &FuncCommand{Fn: func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return n, nil
		}}
	}

	r := NewRunner(4)
	id := r.Add(NoParent, step(1))
	id = r.Add(id, step(2))
	r.Add(id, step(3))
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestExecutorBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	e := NewExecutor(3)
	defer e.Close()

	for i := 1; i <= 10; i++ {
		cmd := &FuncCommand{Fn: func(context.Context) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		}}
		require.NoError(t, e.AddTask(&Task{ID: i, Command: cmd}, nil))
	}

	done := 0
	for !e.IsDone() {
		finished, err := e.WaitForTasks(context.Background())
		require.NoError(t, err)
		done += len(finished)
		assert.LessOrEqual(t, e.Pending(), 3)
	}
	assert.Equal(t, 10, done)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestExecutorDeliversMessagesBeforeAfterRun(t *testing.T) {
	cmd := &recordingCommand{}
	cmd.run = func(_ context.Context, m Messenger) (any, error) {
		for i := 0; i < 5; i++ {
			m.Send(i)
		}
		return "done", nil
	}

	e := NewExecutor(1)
	defer e.Close()
	require.NoError(t, e.AddTask(&Task{ID: 1, Command: cmd}, nil))

	finished, err := e.WaitForTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, []any{0, 1, 2, 3, 4}, cmd.messages)
	assert.Equal(t, "done", finished[0].Result)
	assert.True(t, e.IsDone())
}

func TestExecutorErrorCancelsSiblings(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Bool

	sibling := &FuncCommand{Fn: func(ctx context.Context) (any, error) {
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	}}
	failing := &FuncCommand{Fn: func(context.Context) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, boom
	}}
	never := &recordingCommand{}

	e := NewExecutor(2)
	require.NoError(t, e.AddTask(&Task{ID: 1, Command: sibling}, nil))
	require.NoError(t, e.AddTask(&Task{ID: 2, Command: failing}, nil))
	require.NoError(t, e.AddTask(&Task{ID: 3, Command: never}, nil))

	var err error
	for err == nil && !e.IsDone() {
		_, err = e.WaitForTasks(context.Background())
	}

	var te *TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.TaskID)
	assert.Contains(t, te.Error(), "boom")
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, e.Close(), boom)
	assert.True(t, cancelled.Load())
	assert.Zero(t, never.beforeRuns)
}

func TestRunnerPanicAbortsRun(t *testing.T) {
	child := &recordingCommand{}

	r := NewRunner(2)
	id := r.Add(NoParent, &FuncCommand{Fn: func(context.Context) (any, error) {
		panic("worker exploded")
	}})
	r.Add(id, child)

	err := r.Run(context.Background())
	var te *TaskError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Panic)
	assert.Equal(t, id, te.TaskID)
	assert.Contains(t, te.Message, "worker exploded")
	assert.Zero(t, child.beforeRuns)
}

func TestWaitForTasksContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewExecutor(1)

	started := make(chan struct{})
	require.NoError(t, e.AddTask(&Task{ID: 1, Command: &FuncCommand{Fn: func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}}, nil))

	go func() {
		<-started
		cancel()
	}()

	_, err := e.WaitForTasks(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, e.Close(), context.Canceled)
}

func TestAddTaskAfterClose(t *testing.T) {
	e := NewExecutor(1)
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.AddTask(&Task{ID: 1, Command: &FuncCommand{}}, nil), ErrClosed)
}

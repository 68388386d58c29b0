package consistency

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMonitor struct {
	started int
	done    int
}

func (m *countingMonitor) StartWaiting() { m.started++ }
func (m *countingMonitor) DoneWaiting()  { m.done++ }

func notConsistent() error {
	return fmt.Errorf("GET /uploads/1/chunks: %w", ErrNotConsistent)
}

func TestDoSucceedsImmediately(t *testing.T) {
	mon := &countingMonitor{}
	w := NewWaiter(mon, Options{Interval: time.Millisecond})

	calls := 0
	err := w.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Zero(t, mon.started)
	assert.Zero(t, mon.done)
}

func TestDoNotifiesOncePerRun(t *testing.T) {
	mon := &countingMonitor{}
	w := NewWaiter(mon, Options{Interval: time.Millisecond})

	calls := 0
	err := w.Do(context.Background(), func(context.Context) error {
		calls++
		if calls <= 3 {
			return notConsistent()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 1, mon.started)
	assert.Equal(t, 1, mon.done)
}

func TestDoPropagatesOtherErrors(t *testing.T) {
	mon := &countingMonitor{}
	w := NewWaiter(mon, Options{Interval: time.Millisecond})
	boom := errors.New("boom")

	calls := 0
	err := w.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return notConsistent()
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, mon.started)
	assert.Equal(t, 1, mon.done)
}

func TestDoNilMonitor(t *testing.T) {
	w := NewWaiter(nil, Options{Interval: time.Millisecond})
	calls := 0
	err := w.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return notConsistent()
		}
		return nil
	})
	require.NoError(t, err)
}

func TestDoMaxWait(t *testing.T) {
	mon := &countingMonitor{}
	w := NewWaiter(mon, Options{Interval: time.Millisecond, MaxWait: 10 * time.Millisecond})

	err := w.Do(context.Background(), func(context.Context) error {
		return notConsistent()
	})
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.ErrorIs(t, err, ErrNotConsistent)
	assert.Equal(t, 1, mon.done)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWaiter(nil, Options{Interval: time.Hour})

	calls := 0
	err := w.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return notConsistent()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestCall(t *testing.T) {
	w := NewWaiter(nil, Options{Interval: time.Millisecond})
	calls := 0
	v, err := Call(context.Background(), w, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", notConsistent()
		}
		return "url", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "url", v)
}

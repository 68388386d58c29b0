// Package consistency retries remote calls that fail because the data
// service has not yet converged after a causally prior write.
//
// The wait is unbounded by default. A ceiling can be configured through
// Options.MaxWait, in which case ErrGaveUp is returned once it is exceeded.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the pause between attempts while waiting.
const DefaultInterval = 2 * time.Second

var (
	// ErrNotConsistent is the signal that a resource is not yet consistent.
	// Remote errors report it through errors.Is.
	ErrNotConsistent = errors.New("resource not consistent")

	// ErrGaveUp is returned when Options.MaxWait is exceeded.
	ErrGaveUp = errors.New("gave up waiting for resource to become consistent")
)

// Monitor is notified once per contiguous run of retries.
type Monitor interface {
	StartWaiting()
	DoneWaiting()
}

// Options configures a Waiter.
type Options struct {
	// Interval between attempts. Default: DefaultInterval
	Interval time.Duration

	// MaxWait bounds the total time spent waiting. Zero means wait forever.
	MaxWait time.Duration

	// Logger receives a debug event per retry.
	Logger *zerolog.Logger
}

// Waiter wraps remote calls with the consistency retry loop.
type Waiter struct {
	opts    Options
	monitor Monitor
	logger  zerolog.Logger
}

// NewWaiter returns a Waiter that reports to monitor. monitor may be nil.
func NewWaiter(monitor Monitor, opts Options) *Waiter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	w := &Waiter{opts: opts, monitor: monitor, logger: zerolog.Nop()}
	if opts.Logger != nil {
		w.logger = *opts.Logger
	}
	return w
}

// Do calls fn until it returns something other than a not-consistent error.
// Any other error, or success, is returned untouched.
func (w *Waiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	waiting := false
	var started time.Time
	defer func() {
		if waiting && w.monitor != nil {
			w.monitor.DoneWaiting()
		}
	}()

	for {
		err := fn(ctx)
		if err == nil || !errors.Is(err, ErrNotConsistent) {
			return err
		}

		if !waiting {
			waiting = true
			started = time.Now()
			if w.monitor != nil {
				w.monitor.StartWaiting()
			}
		}
		if w.opts.MaxWait > 0 && time.Since(started) >= w.opts.MaxWait {
			return fmt.Errorf("%w after %s: %w", ErrGaveUp, w.opts.MaxWait, err)
		}

		w.logger.Debug().Dur("interval", w.opts.Interval).Msg("resource not consistent, retrying")

		t := time.NewTimer(w.opts.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Call is Do for functions returning a value.
func Call[T any](ctx context.Context, w *Waiter, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := w.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

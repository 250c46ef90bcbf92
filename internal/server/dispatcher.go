package server

import (
	"context"
	"errors"

	"SynthVault/internal/observability"
)

// ErrDispatcherStopped is returned for tasks submitted after shutdown.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

type task struct {
	fn   func() error
	done chan error
}

// Dispatcher serializes engine access through a single goroutine. The engine
// itself is single-threaded state behind a non-reentrant guard; the
// dispatcher is what turns concurrent HTTP handlers into the one-at-a-time
// stream of calls the engine expects. Reads go through it too: the ledgers
// are plain maps with no internal locking.
type Dispatcher struct {
	tasks   chan task
	stopped chan struct{}
	metrics *observability.Metrics
}

func NewDispatcher(queueSize int, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		tasks:   make(chan task, queueSize),
		stopped: make(chan struct{}),
		metrics: metrics,
	}
}

// Run executes submitted tasks in order until ctx is cancelled. Tasks already
// queued at shutdown get ErrDispatcherStopped rather than silently vanishing.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.stopped)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case t := <-d.tasks:
					t.done <- ErrDispatcherStopped
				default:
					return ctx.Err()
				}
			}

		case t := <-d.tasks:
			t.done <- t.fn()
			if d.metrics != nil {
				d.metrics.SetChannelMetrics("dispatch", len(d.tasks), cap(d.tasks))
			}
		}
	}
}

// Submit runs fn on the dispatcher goroutine and returns its result. Blocks
// until the task runs, the caller's context expires, or the dispatcher stops.
func (d *Dispatcher) Submit(ctx context.Context, fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}

	select {
	case d.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrDispatcherStopped
	}

	select {
	case err := <-t.done:
		return err
	case <-d.stopped:
		// The dispatcher may have completed the task right before stopping.
		select {
		case err := <-t.done:
			return err
		default:
			return ErrDispatcherStopped
		}
	}
}

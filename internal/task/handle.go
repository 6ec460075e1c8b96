// Package task supervises asynchronous engine operations: one live handle
// per kind, cooperative cancellation and a drain that waits for all of them.
package task

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Handle is a running operation. It is cancelled through its context and
// finished once its done channel is closed.
type Handle struct {
	kind      Kind
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
	err       error
}

func start(parent context.Context, kind Kind, op func(ctx context.Context) error, finish func(h *Handle)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{
		kind:   kind,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("task %s panicked: %v", kind, r)
			}
			finish(h)
			close(h.done)
		}()
		h.err = op(ctx)
	}()

	return h
}

// Kind returns the kind the handle was started with.
func (h *Handle) Kind() Kind { return h.kind }

// Cancel asks the operation to stop. It does not wait.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
	h.cancel()
}

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// Done is closed when the operation has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the operation returned or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %s: %w", h.kind, ctx.Err())
	}
}

// Err returns the operation's result. Only valid after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

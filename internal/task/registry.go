package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrNotCancelled is returned by DrainAll when a live handle was never
// cancelled. Draining is only valid after CancelAll.
var ErrNotCancelled = errors.New("task not cancelled before drain")

// Poster schedules a function on the owner's execution context.
type Poster interface {
	Post(fn func())
}

// Registry maps each Kind to at most one live Handle.
//
// Completion callbacks are posted to the Poster, never run on the task's
// goroutine. A handle leaves the registry as soon as its operation returns,
// before its callback is posted.
type Registry struct {
	mu      sync.Mutex
	handles map[Kind]*Handle
	post    Poster
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(post Poster, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handles: make(map[Kind]*Handle),
		post:    post,
		logger:  logger,
	}
}

// StartIfNotRunning starts op unless a task of the same kind is live. It
// returns the live handle and whether a new one was started. onDone, if
// set, is posted with op's error once op returns.
func (r *Registry) StartIfNotRunning(kind Kind, op func(ctx context.Context) error, onDone func(err error)) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[kind]; ok {
		r.logger.Debug("[TASK] Already running", "kind", kind.String())
		return h, false
	}

	h := start(context.Background(), kind, op, func(h *Handle) {
		r.remove(h)
		if onDone != nil {
			err := h.err
			r.post.Post(func() { onDone(err) })
		}
	})
	r.handles[kind] = h

	r.logger.Debug("[TASK] Started", "kind", kind.String())
	return h, true
}

// remove drops h if it is still the live handle for its kind.
func (r *Registry) remove(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.handles[h.kind]; ok && cur == h {
		delete(r.handles, h.kind)
	}
}

// Running reports whether a task of kind is live.
func (r *Registry) Running(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[kind]
	return ok
}

// Len returns the number of live tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Cancel cancels the live task of kind, if any. It does not wait.
func (r *Registry) Cancel(kind Kind) {
	r.mu.Lock()
	h := r.handles[kind]
	r.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
}

// CancelAll cancels every live task. It does not wait.
func (r *Registry) CancelAll() {
	for _, h := range r.snapshot() {
		h.Cancel()
	}
}

// DrainAll waits until every task live at the time of the call has
// returned. Every one of them must have been cancelled first.
func (r *Registry) DrainAll(ctx context.Context) error {
	handles := r.snapshot()
	for _, h := range handles {
		if !h.Cancelled() {
			return fmt.Errorf("drain %s: %w", h.kind, ErrNotCancelled)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error {
			return h.Wait(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(handles) > 0 {
		r.logger.Debug("[TASK] Drained", "count", len(handles))
	}
	return nil
}

func (r *Registry) snapshot() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	return handles
}

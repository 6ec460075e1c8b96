package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Do after the loop was closed.
var ErrClosed = errors.New("executor closed")

// Loop is an Executor that owns one goroutine.
type Loop struct {
	queue  fifo
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewLoop starts a loop goroutine.
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	l.wg.Add(1)
	go l.run()

	return l
}

// Post queues fn. Functions posted after Close are logged and dropped.
func (l *Loop) Post(fn func()) {
	if l.ctx.Err() != nil {
		l.logger.Warn("[EXECUTOR] Post after close, dropping function")
		return
	}
	l.queue.push(fn)
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it to return. It must not be called
// from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if l.ctx.Err() != nil {
		return ErrClosed
	}

	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		// Close drains the queue, so fn may still run.
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) run() {
	defer l.wg.Done()

	for {
		l.drain()

		select {
		case <-l.ctx.Done():
			l.drain()
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) drain() {
	for {
		fn, ok := l.queue.pop()
		if !ok {
			return
		}

		start := time.Now()
		fn()
		if d := time.Since(start); d > 100*time.Millisecond {
			l.logger.Warn("[EXECUTOR] Slow function on loop",
				"duration_ms", d.Milliseconds(),
			)
		}
	}
}

// Close stops the loop after running everything already queued.
// It waits up to five seconds for the goroutine to exit.
func (l *Loop) Close() error {
	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Debug("[EXECUTOR] Loop stopped")
	case <-time.After(5 * time.Second):
		l.logger.Warn("[EXECUTOR] Loop shutdown timeout",
			"queue_remaining", l.queue.len(),
		)
	}
	return nil
}

package executor

import "context"

// Queue is an Executor pumped by its owner. Nothing runs until RunPending
// or RunOne is called.
type Queue struct {
	queue  fifo
	signal chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Post queues fn.
func (q *Queue) Post(fn func()) {
	q.queue.push(fn)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// RunPending runs queued functions, including ones posted while running,
// until the queue is empty. It returns how many ran.
func (q *Queue) RunPending() int {
	n := 0
	for {
		fn, ok := q.queue.pop()
		if !ok {
			return n
		}
		fn()
		n++
	}
}

// RunOne waits for a queued function and runs it.
func (q *Queue) RunOne(ctx context.Context) error {
	for {
		if fn, ok := q.queue.pop(); ok {
			fn()
			return nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Len returns the number of queued functions.
func (q *Queue) Len() int {
	return q.queue.len()
}

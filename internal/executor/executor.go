// Package executor provides the single execution context in which the
// coordinator mutates state and notifies observers.
package executor

import "sync"

// Executor runs posted functions one at a time, in posting order.
// Post never blocks and never drops work.
type Executor interface {
	Post(fn func())
}

// fifo is an unbounded, mutex-guarded queue of functions.
type fifo struct {
	mu    sync.Mutex
	items []func()
}

func (q *fifo) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
}

func (q *fifo) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

func (q *fifo) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

package executor

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLoopRunsInPostingOrder(t *testing.T) {
	t.Parallel()
	l := NewLoop(nil)
	defer l.Close()

	var got []int
	for i := 0; i < 100; i++ {
		l.Post(func() { got = append(got, i) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var snapshot []int
	if err := l.Do(ctx, func() { snapshot = append(snapshot, got...) }); err != nil {
		t.Fatalf("Do: %v", err)
	}

	if len(snapshot) != 100 {
		t.Fatalf("ran %d functions, want 100", len(snapshot))
	}
	for i, v := range snapshot {
		if v != i {
			t.Fatalf("position %d ran %d", i, v)
		}
	}
}

func TestLoopPostFromManyGoroutines(t *testing.T) {
	t.Parallel()
	l := NewLoop(nil)
	defer l.Close()

	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Post(func() { count++ })
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var total int
	if err := l.Do(ctx, func() { total = count }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if total != 1000 {
		t.Errorf("count = %d, want 1000", total)
	}
}

func TestLoopCloseRunsQueuedWork(t *testing.T) {
	t.Parallel()
	l := NewLoop(nil)

	release := make(chan struct{})
	ran := make(chan struct{})
	l.Post(func() { <-release })
	l.Post(func() { close(ran) })

	closed := make(chan struct{})
	go func() {
		l.Close()
		close(closed)
	}()
	close(release)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("queued function did not run before close")
	}
	<-closed

	if err := l.Do(context.Background(), func() {}); err != ErrClosed {
		t.Errorf("Do after close = %v, want ErrClosed", err)
	}
}

func TestQueueRunPendingIncludesNestedPosts(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	var order []string
	q.Post(func() {
		order = append(order, "a")
		q.Post(func() { order = append(order, "c") })
	})
	q.Post(func() { order = append(order, "b") })

	if n := q.RunPending(); n != 3 {
		t.Errorf("RunPending ran %d, want 3", n)
	}
	if got := len(order); got != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("order = %v, want [a b c]", order)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after RunPending", q.Len())
	}
}

func TestQueueRunOneWaits(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Post(func() {})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.RunOne(ctx); err != nil {
		t.Fatalf("RunOne: %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	if err := q.RunOne(ctx2); err != context.DeadlineExceeded {
		t.Errorf("RunOne on empty queue = %v, want deadline exceeded", err)
	}
}

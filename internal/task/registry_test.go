package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/sealbox/internal/executor"
)

func blockUntilCancelled(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStartIfNotRunningRefusesSecondOfSameKind(t *testing.T) {
	t.Parallel()
	q := executor.NewQueue()
	r := NewRegistry(q, nil)

	first, started := r.StartIfNotRunning(GenerateKeys, blockUntilCancelled, nil)
	if !started {
		t.Fatal("first start refused")
	}

	var ran atomic.Bool
	second, started := r.StartIfNotRunning(GenerateKeys, func(context.Context) error {
		ran.Store(true)
		return nil
	}, nil)
	if started {
		t.Fatal("second start of the same kind accepted")
	}
	if second != first {
		t.Error("expected the live handle to be returned")
	}

	if _, started := r.StartIfNotRunning(CheckCredentials, blockUntilCancelled, nil); !started {
		t.Error("a different kind should start")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}

	r.CancelAll()
	if err := r.DrainAll(context.Background()); err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if ran.Load() {
		t.Error("refused op ran")
	}
}

func TestCompletionIsPostedOnce(t *testing.T) {
	t.Parallel()
	q := executor.NewQueue()
	r := NewRegistry(q, nil)

	want := errors.New("engine failed")
	calls := 0
	var got error
	h, _ := r.StartIfNotRunning(RegisterAccount, func(context.Context) error { return want }, func(err error) {
		calls++
		got = err
	})

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}

	if r.Running(RegisterAccount) {
		t.Error("finished task still registered")
	}
	if calls != 0 {
		t.Fatal("completion ran outside the executor")
	}

	q.RunPending()
	if calls != 1 {
		t.Fatalf("completion ran %d times, want 1", calls)
	}
	if !errors.Is(got, want) {
		t.Errorf("completion err = %v, want %v", got, want)
	}
	if !errors.Is(h.Err(), want) {
		t.Errorf("Err() = %v, want %v", h.Err(), want)
	}
}

func TestSameKindCanRestartAfterCompletion(t *testing.T) {
	t.Parallel()
	q := executor.NewQueue()
	r := NewRegistry(q, nil)

	h, _ := r.StartIfNotRunning(AddressExists, func(context.Context) error { return nil }, nil)
	<-h.Done()

	if _, started := r.StartIfNotRunning(AddressExists, func(context.Context) error { return nil }, nil); !started {
		t.Error("restart after completion refused")
	}
}

func TestDrainAllRequiresCancel(t *testing.T) {
	t.Parallel()
	q := executor.NewQueue()
	r := NewRegistry(q, nil)

	r.StartIfNotRunning(SaveDraftAttachment, blockUntilCancelled, nil)

	if err := r.DrainAll(context.Background()); !errors.Is(err, ErrNotCancelled) {
		t.Fatalf("DrainAll without cancel = %v, want ErrNotCancelled", err)
	}

	r.CancelAll()
	if err := r.DrainAll(context.Background()); err != nil {
		t.Fatalf("DrainAll after cancel: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after drain", r.Len())
	}
}

func TestDrainAllWaitsForEveryTask(t *testing.T) {
	t.Parallel()
	q := executor.NewQueue()
	r := NewRegistry(q, nil)

	var finished atomic.Int32
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Add(1)
		return ctx.Err()
	}
	r.StartIfNotRunning(AddDraftAttachment, slow, nil)
	r.StartIfNotRunning(SaveMessageAttachment, slow, nil)
	r.StartIfNotRunning(SaveDraftAttachment, slow, nil)

	r.CancelAll()
	if err := r.DrainAll(context.Background()); err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if n := finished.Load(); n != 3 {
		t.Errorf("%d tasks finished before drain returned, want 3", n)
	}
}

func TestDrainAllHonoursContext(t *testing.T) {
	t.Parallel()
	q := executor.NewQueue()
	r := NewRegistry(q, nil)

	release := make(chan struct{})
	defer close(release)
	r.StartIfNotRunning(UnregisterPushToken, func(context.Context) error {
		<-release
		return nil
	}, nil)
	r.CancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.DrainAll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("DrainAll = %v, want deadline exceeded", err)
	}
}

func TestPanickingTaskReportsError(t *testing.T) {
	t.Parallel()
	q := executor.NewQueue()
	r := NewRegistry(q, nil)

	var got error
	h, _ := r.StartIfNotRunning(GenerateKeys, func(context.Context) error { panic("boom") }, func(err error) { got = err })
	<-h.Done()
	q.RunPending()

	if got == nil {
		t.Fatal("expected an error from a panicking task")
	}
}

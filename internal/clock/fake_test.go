package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()
	c := Fake(epoch)
	ch := c.After(time.Minute)

	c.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(time.Minute)) {
			t.Errorf("fired at %v, want %v", got, epoch.Add(time.Minute))
		}
	default:
		t.Fatal("did not fire at deadline")
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	t.Parallel()
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeBlockUntil(t *testing.T) {
	t.Parallel()
	c := Fake(epoch)

	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()

	c.BlockUntil(1)
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never released")
	}
}

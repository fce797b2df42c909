package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitForCount(t *testing.T, counter *int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(counter) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("count = %d, want %d", atomic.LoadInt32(counter), want)
}

func TestSingleShotRunsOnceAfterDelay(t *testing.T) {
	var runs int32
	s := NewSingleShot(10*time.Millisecond, func() {
		atomic.AddInt32(&runs, 1)
	})
	defer s.Shutdown()

	s.Reset()
	if !s.ActionPending() {
		t.Error("action should be pending after Reset")
	}

	waitForCount(t, &runs, 1)
	if s.ActionPending() {
		t.Error("action still pending after it ran")
	}

	// No further runs without another Reset.
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestSingleShotCoalescesResets(t *testing.T) {
	var runs int32
	s := NewSingleShot(20*time.Millisecond, func() {
		atomic.AddInt32(&runs, 1)
	})
	defer s.Shutdown()

	for i := 0; i < 5; i++ {
		s.Reset()
		time.Sleep(5 * time.Millisecond)
	}

	waitForCount(t, &runs, 1)
}

func TestSingleShotRearmsAfterRun(t *testing.T) {
	var runs int32
	s := NewSingleShot(5*time.Millisecond, func() {
		atomic.AddInt32(&runs, 1)
	})
	defer s.Shutdown()

	s.Reset()
	waitForCount(t, &runs, 1)
	s.Reset()
	waitForCount(t, &runs, 2)
}

func TestSingleShotShutdownIsInert(t *testing.T) {
	var runs int32
	s := NewSingleShot(5*time.Millisecond, func() {
		atomic.AddInt32(&runs, 1)
	})

	s.Reset()
	s.Shutdown()
	if s.ActionPending() {
		t.Error("action pending after shutdown")
	}

	// Resets after shutdown do nothing.
	s.Reset()
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&runs); got != 0 {
		t.Errorf("runs = %d, want 0", got)
	}
}

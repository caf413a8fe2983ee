package service

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestDebouncerCollapsesBurst(t *testing.T) {
	var calls int32
	d := NewDebouncer(30*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })

	for i := 0; i < 5; i++ {
		d.Trigger()
	}
	if !d.Pending() {
		t.Fatalf("expected a pending call")
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 1 })
	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
	if d.Pending() {
		t.Fatalf("expected nothing pending after firing")
	}
}

func TestDebouncerFlush(t *testing.T) {
	var calls int32
	d := NewDebouncer(time.Hour, func() { atomic.AddInt32(&calls, 1) })

	d.Flush()
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("flush with nothing pending should not call, got %d", got)
	}

	d.Trigger()
	d.Trigger()
	d.Flush()
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 call after flush, got %d", got)
	}
	d.Stop()
}

func TestDebouncerStop(t *testing.T) {
	var calls int32
	d := NewDebouncer(20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })

	d.Trigger()
	d.Stop()
	d.Trigger()
	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no calls after stop, got %d", got)
	}
}

func TestDebouncerZeroIntervalIsSynchronous(t *testing.T) {
	calls := 0
	d := NewDebouncer(0, func() { calls++ })
	d.Trigger()
	d.Trigger()
	if calls != 2 {
		t.Fatalf("expected 2 synchronous calls, got %d", calls)
	}
}

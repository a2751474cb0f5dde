package ratelimit

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyed_FirstRunNotLimited(t *testing.T) {
	k := NewKeyed()
	defer k.Stop()

	next := k.ScheduleAction("light.office", time.Second, time.Now(), func() {})
	if !next.IsZero() {
		t.Errorf("ScheduleAction() = %v, want zero time for untriggered key", next)
	}
}

func TestKeyed_SuppressesInsideWindow(t *testing.T) {
	k := NewKeyed()
	defer k.Stop()

	now := time.Now()
	k.Triggered("light.office", now)

	var ran atomic.Int64
	next := k.ScheduleAction("light.office", time.Hour, now.Add(time.Second), func() {
		ran.Add(1)
	})

	want := now.Add(time.Hour)
	if !next.Equal(want) {
		t.Errorf("ScheduleAction() = %v, want %v", next, want)
	}
	if !k.HasTimer("light.office") {
		t.Error("HasTimer() = false, want armed timer")
	}
	if ran.Load() != 0 {
		t.Error("action ran immediately while suppressed")
	}
}

func TestKeyed_AllowedAfterWindow(t *testing.T) {
	k := NewKeyed()
	defer k.Stop()

	now := time.Now()
	k.Triggered("light.office", now)

	next := k.ScheduleAction("light.office", time.Second, now.Add(2*time.Second), func() {})
	if !next.IsZero() {
		t.Errorf("ScheduleAction() = %v, want zero time after window passed", next)
	}
}

func TestKeyed_SingleTimerPerKey(t *testing.T) {
	k := NewKeyed()
	defer k.Stop()

	now := time.Now()
	k.Triggered("cover.garage", now)

	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		k.ScheduleAction("cover.garage", 50*time.Millisecond, now, func() {
			ran.Add(1)
		})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && ran.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	// Only the first schedule armed a timer.
	time.Sleep(100 * time.Millisecond)
	if got := ran.Load(); got != 1 {
		t.Errorf("action ran %d times, want 1", got)
	}
	if k.HasTimer("cover.garage") {
		t.Error("timer still armed after firing")
	}
}

func TestKeyed_TriggeredCancelsTimer(t *testing.T) {
	k := NewKeyed()
	defer k.Stop()

	now := time.Now()
	k.Triggered("cover.garage", now)

	var ran atomic.Int64
	k.ScheduleAction("cover.garage", 50*time.Millisecond, now, func() {
		ran.Add(1)
	})

	// The action ran through some other path; the deferred run must not
	// double up.
	k.Triggered("cover.garage", now.Add(10*time.Millisecond))

	time.Sleep(120 * time.Millisecond)
	if got := ran.Load(); got != 0 {
		t.Errorf("deferred action ran %d times after Triggered, want 0", got)
	}
}

func TestKeyed_CancelTimer(t *testing.T) {
	k := NewKeyed()
	defer k.Stop()

	now := time.Now()
	k.Triggered("x", now)

	var ran atomic.Int64
	k.ScheduleAction("x", 30*time.Millisecond, now, func() { ran.Add(1) })
	k.CancelTimer("x")

	time.Sleep(80 * time.Millisecond)
	if ran.Load() != 0 {
		t.Error("action ran after CancelTimer")
	}
}

func TestKeyed_ZeroLimitDisables(t *testing.T) {
	k := NewKeyed()
	defer k.Stop()

	now := time.Now()
	k.Triggered("x", now)

	if next := k.ScheduleAction("x", 0, now, func() {}); !next.IsZero() {
		t.Errorf("ScheduleAction() with zero limit = %v, want zero time", next)
	}
}

func TestKeyed_StopCancelsAll(t *testing.T) {
	k := NewKeyed()

	now := time.Now()
	var ran atomic.Int64
	for _, key := range []string{"a", "b", "c"} {
		k.Triggered(key, now)
		k.ScheduleAction(key, 30*time.Millisecond, now, func() { ran.Add(1) })
	}

	k.Stop()

	time.Sleep(80 * time.Millisecond)
	if ran.Load() != 0 {
		t.Errorf("actions ran %d times after Stop, want 0", ran.Load())
	}
}

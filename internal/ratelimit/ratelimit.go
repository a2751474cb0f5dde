// Package ratelimit provides per-key rate limiting with deferred
// trailing actions.
package ratelimit

import (
	"sync"
	"time"
)

// Keyed tracks when each key last fired and arms at most one deferred
// timer per key for a suppressed trigger.
//
// The intended pattern: call Triggered when the action actually runs;
// before running, offer the action to ScheduleAction. When the key is
// inside its rate limit window, ScheduleAction arms a timer that runs
// the action once the window closes and returns the time it will fire,
// telling the caller to skip the immediate run.
type Keyed struct {
	mu            sync.Mutex
	lastTriggered map[string]time.Time
	timers        map[string]*time.Timer
	stopped       bool
}

// NewKeyed creates an empty rate limiter.
func NewKeyed() *Keyed {
	return &Keyed{
		lastTriggered: make(map[string]time.Time),
		timers:        make(map[string]*time.Timer),
	}
}

// Triggered records that the action for key ran at now and cancels any
// deferred timer for it.
func (k *Keyed) Triggered(key string, now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.lastTriggered[key] = now
	k.cancelTimerLocked(key)
}

// HasTimer reports whether a deferred action is armed for key.
func (k *Keyed) HasTimer(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.timers[key]
	return ok
}

// ScheduleAction decides whether the action for key may run at now
// given the limit.
//
// Returns the zero time when the action may run immediately (the key
// never fired, or the window has passed). Otherwise it arms a timer,
// unless one is already pending, that runs action when the window
// closes, and returns that time so the caller can skip the run.
//
// A zero limit disables rate limiting.
func (k *Keyed) ScheduleAction(key string, limit time.Duration, now time.Time, action func()) time.Time {
	if limit <= 0 {
		return time.Time{}
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.stopped {
		return time.Time{}
	}

	last, ok := k.lastTriggered[key]
	if !ok {
		return time.Time{}
	}

	nextAllowed := last.Add(limit)
	if !nextAllowed.After(now) {
		k.cancelTimerLocked(key)
		return time.Time{}
	}

	if _, pending := k.timers[key]; !pending {
		k.timers[key] = time.AfterFunc(nextAllowed.Sub(now), func() {
			k.mu.Lock()
			delete(k.timers, key)
			stopped := k.stopped
			k.mu.Unlock()

			if !stopped {
				action()
			}
		})
	}

	return nextAllowed
}

// CancelTimer cancels the deferred action for key, if any.
func (k *Keyed) CancelTimer(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cancelTimerLocked(key)
}

// Stop cancels all deferred actions. The limiter ignores further
// scheduling afterwards.
func (k *Keyed) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopped = true
	for key := range k.timers {
		k.cancelTimerLocked(key)
	}
}

// cancelTimerLocked stops and forgets the timer for key. Caller holds mu.
func (k *Keyed) cancelTimerLocked(key string) {
	if timer, ok := k.timers[key]; ok {
		timer.Stop()
		delete(k.timers, key)
	}
}

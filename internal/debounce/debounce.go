// Package debounce collapses bursts of calls into rate-limited
// executions of a single function.
package debounce

import (
	"context"
	"sync"
	"time"
)

// Func is the debounced action.
type Func func(ctx context.Context)

// Debouncer rate limits calls to a function.
//
// With immediate set, the first call in an idle period executes right
// away and opens a cooldown window; calls landing inside the window
// coalesce into one trailing execution when it closes. Without
// immediate, even the first call waits out the cooldown, so a burst
// settles before the function runs at all.
type Debouncer struct {
	cooldown  time.Duration
	immediate bool
	fn        Func

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a debouncer around fn.
func New(cooldown time.Duration, immediate bool, fn Func) *Debouncer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		cooldown:  cooldown,
		immediate: immediate,
		fn:        fn,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Call requests an execution. Safe for concurrent use; never blocks on
// the debounced function.
func (d *Debouncer) Call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if d.timer != nil {
		// Inside a cooldown window: coalesce.
		d.pending = true
		return
	}

	if d.immediate {
		d.run()
	} else {
		d.pending = true
	}
	d.timer = time.AfterFunc(d.cooldown, d.onCooldownEnd)
}

// onCooldownEnd fires when the cooldown window closes.
func (d *Debouncer) onCooldownEnd() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if d.pending {
		d.pending = false
		d.run()
		// The trailing execution opens its own cooldown window.
		d.timer = time.AfterFunc(d.cooldown, d.onCooldownEnd)
		return
	}
	d.timer = nil
}

// run launches one execution. Caller holds mu.
func (d *Debouncer) run() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.fn(d.ctx)
	}()
}

// Cancel drops any pending trailing execution without shutting the
// debouncer down.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Shutdown cancels pending work and waits for a running execution to
// finish. The debouncer ignores calls afterwards.
func (d *Debouncer) Shutdown() {
	d.mu.Lock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

// Package ttltimer runs a periodic callback with start, pause, resume, and
// stop semantics. Every tier owns one Timer to drive its background prune.
package ttltimer

import (
	"sync"
	"time"
)

// Timer schedules one recurring callback. The zero value is ready to use.
//
// Pause keeps the interval so Resume can restart with it; Stop forgets the
// interval, which turns a later Resume into a no-op.
type Timer struct {
	mu       sync.Mutex
	interval time.Duration
	halt     chan struct{}

	// run serializes callbacks, so a restarted timer never overlaps a
	// callback still running from the previous schedule.
	run sync.Mutex
}

// Start installs callback to fire every interval, replacing any schedule
// already running. Non-positive intervals and nil callbacks are ignored.
func (t *Timer) Start(callback func(), interval time.Duration) {
	if callback == nil || interval <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.haltLocked()
	t.interval = interval
	t.launchLocked(callback)
}

// Pause stops firing and retains the interval.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.haltLocked()
}

// Resume restarts callback with the retained interval. It does nothing when
// the timer is running or when no interval is retained.
func (t *Timer) Resume(callback func()) {
	if callback == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.halt != nil || t.interval <= 0 {
		return
	}
	t.launchLocked(callback)
}

// Stop stops firing and forgets the interval.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.haltLocked()
	t.interval = 0
}

// Running reports whether a schedule is installed.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.halt != nil
}

// Interval returns the retained interval, zero after Stop or before Start.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

func (t *Timer) haltLocked() {
	if t.halt == nil {
		return
	}
	close(t.halt)
	t.halt = nil
}

func (t *Timer) launchLocked(callback func()) {
	halt := make(chan struct{})
	t.halt = halt
	go t.loop(halt, t.interval, callback)
}

func (t *Timer) loop(halt <-chan struct{}, interval time.Duration, callback func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-halt:
			return
		case <-ticker.C:
			t.fire(halt, callback)
		}
	}
}

func (t *Timer) fire(halt <-chan struct{}, callback func()) {
	t.run.Lock()
	defer t.run.Unlock()

	select {
	case <-halt:
		return
	default:
	}
	callback()
}

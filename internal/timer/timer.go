// Package timer provides a restartable one-shot timer task.
package timer

import (
	"sync"
	"time"
)

// Timer runs fn once after a delay. Every Reset cancels the pending run and
// schedules a fresh one; Stop cancels without scheduling. Both are safe to
// call at any time, including after fn has already run.
type Timer struct {
	mu      sync.Mutex
	fn      func()
	t       *time.Timer
	gen     uint64
	pending bool
}

// New creates an idle timer that will call fn when it fires.
func New(fn func()) *Timer {
	return &Timer{fn: fn}
}

// Reset cancels any pending run and schedules fn to run after d.
func (t *Timer) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	gen := t.gen
	t.pending = true
	t.t = time.AfterFunc(d, func() { t.fire(gen) })
}

// Stop cancels a pending run. It reports whether a run was pending.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.pending {
		return false
	}
	t.t.Stop()
	// A callback that already started waiting on mu sees a stale generation.
	t.gen++
	t.pending = false
	return true
}

// Pending reports whether the timer is scheduled and has not fired yet.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.mu.Unlock()

	t.fn()
}

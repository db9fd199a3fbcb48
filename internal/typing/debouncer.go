// Package typing turns keystrokes into typing notifications and tracks who is
// currently typing.
package typing

import (
	"sync"
	"time"

	"github.com/nfrund/relay/internal/timer"
)

const (
	// DefaultSettle is the minimum gap between a stop and the next start.
	DefaultSettle = 300 * time.Millisecond
	// DefaultIdle is how long after the last keystroke typing is considered
	// finished.
	DefaultIdle = 1500 * time.Millisecond
)

// Debouncer converts a stream of keystrokes into typing / stop-typing
// notifications for the sending side. emit(true) announces typing and
// emit(false) announces the stop.
//
// emit is called with the debouncer's lock held so notifications are never
// reordered; it must not call back into the Debouncer.
type Debouncer struct {
	mu        sync.Mutex
	settle    time.Duration
	idle      time.Duration
	emit      func(typing bool)
	now       func() time.Time
	active    bool
	lastEmit  time.Time
	stoppedAt time.Time

	idleTimer   *timer.Timer
	settleTimer *timer.Timer
}

// DebouncerOption configures a Debouncer.
type DebouncerOption func(*Debouncer)

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) DebouncerOption {
	return func(db *Debouncer) { db.settle = d }
}

// WithIdle overrides DefaultIdle.
func WithIdle(d time.Duration) DebouncerOption {
	return func(db *Debouncer) { db.idle = d }
}

// NewDebouncer creates an idle debouncer.
func NewDebouncer(emit func(typing bool), opts ...DebouncerOption) *Debouncer {
	d := &Debouncer{
		settle: DefaultSettle,
		idle:   DefaultIdle,
		emit:   emit,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.idleTimer = timer.New(d.onIdle)
	d.settleTimer = timer.New(d.onSettle)
	return d
}

// Keystroke records input activity.
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.idleTimer.Reset(d.idle)

	if d.active {
		// Keep-alive for long compositions, at most once per idle period.
		if now.Sub(d.lastEmit) >= d.idle {
			d.lastEmit = now
			d.emit(true)
		}
		return
	}

	if d.settleTimer.Pending() {
		return
	}
	if since := now.Sub(d.stoppedAt); !d.stoppedAt.IsZero() && since < d.settle {
		d.settleTimer.Reset(d.settle - since)
		return
	}
	d.start(now)
}

// Cancel stops both timers and announces the stop if typing was announced.
// Calling it again is a no-op.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.idleTimer.Stop()
	d.settleTimer.Stop()
	d.stop()
}

// Active reports whether typing is currently announced.
func (d *Debouncer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Debouncer) onIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A keystroke rescheduled the timer while this run waited for the lock.
	if d.idleTimer.Pending() {
		return
	}
	d.settleTimer.Stop()
	d.stop()
}

func (d *Debouncer) onSettle() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.settleTimer.Pending() || d.active {
		return
	}
	// Only start if the user is still typing.
	if d.idleTimer.Pending() {
		d.start(d.now())
	}
}

func (d *Debouncer) start(now time.Time) {
	d.active = true
	d.lastEmit = now
	d.emit(true)
}

func (d *Debouncer) stop() {
	if !d.active {
		return
	}
	d.active = false
	d.stoppedAt = d.now()
	d.emit(false)
}

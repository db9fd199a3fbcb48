package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type emitLog struct {
	mu     sync.Mutex
	events []bool
}

func (l *emitLog) emit(typing bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, typing)
}

func (l *emitLog) all() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.events...)
}

func TestDebouncer_SingleStartAndStop(t *testing.T) {
	log := &emitLog{}
	d := NewDebouncer(log.emit, WithIdle(60*time.Millisecond), WithSettle(time.Millisecond))

	d.Keystroke()
	assert.Equal(t, []bool{true}, log.all(), "first keystroke announces typing immediately")

	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		d.Keystroke()
	}
	assert.Equal(t, []bool{true}, log.all(), "keystrokes inside the idle interval emit nothing")
	assert.True(t, d.Active())

	assert.Eventually(t, func() bool {
		return len(log.all()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, log.all())
	assert.False(t, d.Active())

	assert.Never(t, func() bool {
		return len(log.all()) > 2
	}, 150*time.Millisecond, 10*time.Millisecond, "exactly one stop per inactivity period")
}

func TestDebouncer_KeepAliveOncePerIdlePeriod(t *testing.T) {
	log := &emitLog{}
	d := NewDebouncer(log.emit, WithIdle(time.Hour))
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	d.now = func() time.Time { return now }
	defer d.Cancel()

	d.Keystroke()
	now = base.Add(30 * time.Minute)
	d.Keystroke()
	assert.Equal(t, []bool{true}, log.all())

	now = base.Add(time.Hour)
	d.Keystroke()
	assert.Equal(t, []bool{true, true}, log.all())

	now = base.Add(time.Hour + time.Minute)
	d.Keystroke()
	assert.Equal(t, []bool{true, true}, log.all())
}

func TestDebouncer_Cancel(t *testing.T) {
	log := &emitLog{}
	d := NewDebouncer(log.emit, WithIdle(time.Hour))

	d.Cancel()
	assert.Empty(t, log.all(), "cancel while idle emits nothing")

	d.Keystroke()
	d.Cancel()
	d.Cancel()
	assert.Equal(t, []bool{true, false}, log.all())
	assert.False(t, d.Active())
}

func TestDebouncer_SettleAfterStop(t *testing.T) {
	log := &emitLog{}
	d := NewDebouncer(log.emit, WithIdle(time.Second), WithSettle(40*time.Millisecond))
	defer d.Cancel()

	d.Keystroke()
	d.Cancel()
	d.Keystroke()
	assert.Equal(t, []bool{true, false}, log.all(), "restart is held back by the settle guard")

	assert.Eventually(t, func() bool {
		return len(log.all()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false, true}, log.all())
}

func TestDebouncer_SettleSkippedWhenUserStopped(t *testing.T) {
	log := &emitLog{}
	d := NewDebouncer(log.emit, WithIdle(20*time.Millisecond), WithSettle(80*time.Millisecond))

	d.Keystroke()
	d.Cancel()
	d.Keystroke()

	assert.Never(t, func() bool {
		return len(log.all()) > 2
	}, 200*time.Millisecond, 10*time.Millisecond)
}

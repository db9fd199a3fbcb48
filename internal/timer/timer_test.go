package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimer_FiresOnce(t *testing.T) {
	var calls atomic.Int32
	tm := New(func() { calls.Add(1) })

	tm.Reset(10 * time.Millisecond)
	assert.True(t, tm.Pending())

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, tm.Pending())
	assert.Never(t, func() bool { return calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestTimer_ResetRestartsCountdown(t *testing.T) {
	var calls atomic.Int32
	tm := New(func() { calls.Add(1) })

	for i := 0; i < 5; i++ {
		tm.Reset(40 * time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int32(0), calls.Load(), "restarted timer must not fire early")

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTimer_StopIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	tm := New(func() { calls.Add(1) })

	assert.False(t, tm.Stop(), "stopping an idle timer is a no-op")

	tm.Reset(20 * time.Millisecond)
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	assert.Never(t, func() bool { return calls.Load() > 0 }, 60*time.Millisecond, 5*time.Millisecond)

	tm.Reset(5 * time.Millisecond)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, tm.Stop(), "stopping a fired timer is a no-op")
}

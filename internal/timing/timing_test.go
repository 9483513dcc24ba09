// ABOUTME: Tests for the debouncer and delayed task
// ABOUTME: Uses short real durations with Eventually/Never assertions

package timing

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_CollapsesBurst(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { calls.Add(1) })
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	assert.True(t, d.Pending())

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 1 }, 80*time.Millisecond, 10*time.Millisecond)
}

func TestDebouncer_ZeroWindowRunsImmediately(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(0, func() { calls.Add(1) })

	d.Trigger()
	d.Trigger()

	assert.Equal(t, int32(2), calls.Load())
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	d.Stop()
	d.Trigger()

	assert.Never(t, func() bool { return calls.Load() > 0 }, 60*time.Millisecond, 5*time.Millisecond)
	assert.False(t, d.Pending())
}

func TestTask_ScheduleAndCancel(t *testing.T) {
	var task Task
	var fired atomic.Int32

	task.Schedule(20*time.Millisecond, func() { fired.Add(1) })
	assert.True(t, task.Pending())
	task.Cancel()

	assert.Never(t, func() bool { return fired.Load() > 0 }, 60*time.Millisecond, 5*time.Millisecond)

	task.Schedule(10*time.Millisecond, func() { fired.Add(1) })
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, task.Pending())
}

func TestTask_RescheduleReplacesCallback(t *testing.T) {
	var task Task
	var first, second atomic.Int32

	task.Schedule(20*time.Millisecond, func() { first.Add(1) })
	task.Schedule(20*time.Millisecond, func() { second.Add(1) })

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

// ABOUTME: Trailing debouncer and cancelable delayed task built on time.AfterFunc
// ABOUTME: Owners stop them on teardown so no callback fires after release

package timing

import (
	"sync"
	"time"
)

// Debouncer runs fn once after calls to Trigger stop arriving for the window.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	fn      func()
	timer   *time.Timer
	seq     uint64
	stopped bool
}

// NewDebouncer creates a trailing debouncer. A zero window runs fn
// synchronously on every Trigger.
func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{window: window, fn: fn}
}

// Trigger (re)starts the window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.window <= 0 {
		d.mu.Unlock()
		d.fn()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.window, func() { d.fire(seq) })
	d.mu.Unlock()
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// Pending reports whether a trailing call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels any pending call. Later Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Task is a single delayed callback that can be rescheduled or canceled.
type Task struct {
	mu    sync.Mutex
	timer *time.Timer
	seq   uint64
}

// Schedule replaces any pending callback with fn after delay.
func (t *Task) Schedule(delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.seq++
	seq := t.seq
	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if seq != t.seq {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending callback, if any.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Pending reports whether a callback is scheduled.
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

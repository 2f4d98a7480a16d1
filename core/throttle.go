package core

import (
	"sync"
	"time"
)

// throttle collapses bursts of calls into one trailing invocation of fn per
// interval.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	timer    *time.Timer
	closed   bool
}

func newThrottle(interval time.Duration, fn func()) *throttle {
	return &throttle{interval: interval, fn: fn}
}

// Call requests an invocation at the end of the current window.
func (t *throttle) Call() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.interval <= 0 {
		t.mu.Unlock()
		t.fn()
		return
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(t.interval, t.fire)
	}
	t.mu.Unlock()
}

func (t *throttle) fire() {
	t.mu.Lock()
	t.timer = nil
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		t.fn()
	}
}

// Pending reports whether a trailing call is scheduled.
func (t *throttle) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Stop cancels a pending call and disables the throttle.
func (t *throttle) Stop() {
	t.mu.Lock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}

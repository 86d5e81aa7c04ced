//go:build !linux

package timerfd

import (
	"fmt"
	"time"
)

// Timer is an interval timer built on time.Timer/time.Ticker for platforms
// without timerfd. Missed expirations are reconstructed from the monotonic
// clock so Wait reports the same counts timerfd would.
type Timer struct {
	spec    Spec
	running bool
	first   *time.Timer
	ticker  *time.Ticker
	next    time.Time
}

// New returns an unarmed timer. Call Initialize before Start.
func New() *Timer {
	return &Timer{}
}

// Start arms the timer.
func (t *Timer) Start() error {
	if t.running {
		return ErrTimerRunning
	}
	if t.spec.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrTimer, t.spec.Interval)
	}
	t.next = time.Now().Add(t.spec.firstExpiration())
	t.first = time.NewTimer(t.spec.firstExpiration())
	t.running = true
	return nil
}

// Wait blocks until the next expiration.
func (t *Timer) Wait() (uint64, error) {
	if !t.running {
		return 0, ErrTimerStopped
	}
	if t.first != nil {
		<-t.first.C
		t.first = nil
		t.ticker = time.NewTicker(t.spec.Interval)
	} else {
		<-t.ticker.C
	}
	now := time.Now()
	count := uint64(1)
	if late := now.Sub(t.next); late > t.spec.Interval {
		count += uint64(late / t.spec.Interval)
	}
	t.next = t.next.Add(time.Duration(count) * t.spec.Interval)
	return count, nil
}

// Stop disarms the timer. Stopping a timer that is not running is a no-op.
func (t *Timer) Stop() error {
	if !t.running {
		return nil
	}
	if t.first != nil {
		t.first.Stop()
		t.first = nil
	}
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
	t.running = false
	return nil
}

// Fd always returns -1: there is no pollable descriptor on this platform.
func (t *Timer) Fd() int {
	return -1
}

var _ Periodic = (*Timer)(nil)

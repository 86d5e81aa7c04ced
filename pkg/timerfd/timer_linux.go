//go:build linux

package timerfd

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Timer is a timerfd-backed interval timer. It is owned by a single
// goroutine: Start, Wait and Stop must not be called concurrently.
type Timer struct {
	spec    Spec
	fd      int
	running bool
	buf     [8]byte
}

// New returns an unarmed timer. Call Initialize before Start.
func New() *Timer {
	return &Timer{fd: -1}
}

// itimerspec converts s for timerfd_settime. NsecToTimespec keeps tv_nsec
// in [0, 1e9) as the kernel requires.
func itimerspec(s Spec) unix.ItimerSpec {
	return unix.ItimerSpec{
		Value:    unix.NsecToTimespec(int64(s.firstExpiration())),
		Interval: unix.NsecToTimespec(int64(s.Interval)),
	}
}

// Start creates the timerfd on CLOCK_MONOTONIC and arms it.
func (t *Timer) Start() error {
	if t.running {
		return ErrTimerRunning
	}
	if t.spec.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrTimer, t.spec.Interval)
	}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("%w: timerfd_create: %v", ErrTimer, err)
	}
	spec := itimerspec(t.spec)
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("%w: timerfd_settime: %v", ErrTimer, err)
	}
	t.fd = fd
	t.running = true
	return nil
}

// Wait blocks in read(2) until the timer expires.
func (t *Timer) Wait() (uint64, error) {
	if !t.running {
		return 0, ErrTimerStopped
	}
	for {
		n, err := unix.Read(t.fd, t.buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: read: %v", ErrTimer, err)
		}
		if n != len(t.buf) {
			return 0, fmt.Errorf("%w: short read of %d bytes", ErrTimer, n)
		}
		return binary.NativeEndian.Uint64(t.buf[:]), nil
	}
}

// Stop disarms the timer with a zero spec and closes the descriptor.
// Stopping a timer that is not running is a no-op.
func (t *Timer) Stop() error {
	if !t.running {
		return nil
	}
	var zero unix.ItimerSpec
	if err := unix.TimerfdSettime(t.fd, 0, &zero, nil); err != nil {
		return fmt.Errorf("%w: unable to disarm: %v", ErrTimer, err)
	}
	err := unix.Close(t.fd)
	t.fd = -1
	t.running = false
	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrTimer, err)
	}
	return nil
}

// Fd returns the waitable descriptor, or -1 when the timer is not running.
func (t *Timer) Fd() int {
	return t.fd
}

var _ Periodic = (*Timer)(nil)

package timerfd

import (
	"errors"
	"time"
)

var (
	// ErrTimer wraps every failure to create, arm, read or disarm the OS timer.
	ErrTimer = errors.New("timer error")
	// ErrTimerRunning is returned by Start on a timer that is already armed.
	ErrTimerRunning = errors.New("timer is already running")
	// ErrTimerStopped is returned by Wait on a timer that is not armed.
	ErrTimerStopped = errors.New("timer is not running")
)

const nsecPerSec = int64(time.Second)

// Spec holds the first-expiration delay and the steady-state period.
type Spec struct {
	InitialDelay time.Duration
	Interval     time.Duration
}

// SpecFromParts builds a Spec from (seconds, nanoseconds) pairs, normalizing
// each nanosecond component into [0, 1e9).
func SpecFromParts(delaySec, delayNsec, intervalSec, intervalNsec int64) Spec {
	ds, dn := Normalize(delaySec, delayNsec)
	is, in := Normalize(intervalSec, intervalNsec)
	return Spec{
		InitialDelay: time.Duration(ds*nsecPerSec + dn),
		Interval:     time.Duration(is*nsecPerSec + in),
	}
}

// Normalize carries whole seconds out of nsec so that 0 <= nsec < 1e9.
func Normalize(sec, nsec int64) (int64, int64) {
	sec += nsec / nsecPerSec
	nsec %= nsecPerSec
	if nsec < 0 {
		sec--
		nsec += nsecPerSec
	}
	return sec, nsec
}

// Split returns d as normalized (seconds, nanoseconds).
func Split(d time.Duration) (int64, int64) {
	return Normalize(0, int64(d))
}

// firstExpiration returns the value the timer is armed with. The OS treats a
// zero value as "disarm", so a zero delay means one full interval.
func (s Spec) firstExpiration() time.Duration {
	if s.InitialDelay > 0 {
		return s.InitialDelay
	}
	return s.Interval
}

// Periodic is the surface the workers pace themselves with.
// *Timer implements it.
type Periodic interface {
	Start() error
	// Wait blocks until the next expiration and returns the number of
	// expirations since the previous Wait (>= 1).
	Wait() (uint64, error)
	Stop() error
}

// Factory builds an unarmed Periodic for the given spec.
type Factory func(spec Spec) Periodic

// DefaultFactory returns an OS-backed timer.
func DefaultFactory(spec Spec) Periodic {
	t := New()
	t.Initialize(spec.InitialDelay, spec.Interval)
	return t
}

// Initialize configures the first-expiration delay and the period.
// It has no effect on a running timer until the next Start.
func (t *Timer) Initialize(initialDelay, interval time.Duration) {
	t.spec = Spec{InitialDelay: initialDelay, Interval: interval}
}

// Spec returns the configured spec.
func (t *Timer) Spec() Spec {
	return t.spec
}

// IsRunning reports whether the timer is armed.
func (t *Timer) IsRunning() bool {
	return t.running
}

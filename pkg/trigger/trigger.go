// Package trigger fires numbered triggers at a fixed period on a dedicated
// goroutine locked to its OS thread.
//
// Two pacing modes are available. TickMode waits on the OS interval timer
// and fires once per wake-up. ElapsedMode polls a monotonic clock and fires
// when more than one period of running time has passed since the previous
// trigger, so a long pause never produces a burst of catch-up triggers.
//
// Each trigger runs the pre-trigger action, notifies the listeners and runs
// the post-trigger action, all on the worker goroutine. Listeners that hand
// the id to other goroutines get no ordering guarantee relative to the
// post-trigger action.
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/portplayer/portplayer/pkg/runctl"
)

// DefaultPeriod is the trigger period used when none is configured.
const DefaultPeriod = 50 * time.Millisecond

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = runctl.ErrAlreadyRunning
	// ErrRunning is returned by setters while a run is active.
	ErrRunning = errors.New("trigger manager is running")
	// ErrInvalidPeriod is returned for a non-positive period.
	ErrInvalidPeriod = errors.New("trigger period must be positive")
)

// Mode selects how the worker is paced.
type Mode int

const (
	TickMode Mode = iota
	ElapsedMode
)

// ParseMode accepts "tick" and "elapsed".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tick", "":
		return TickMode, nil
	case "elapsed":
		return ElapsedMode, nil
	}
	return 0, fmt.Errorf("unknown trigger mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case TickMode:
		return "tick"
	case ElapsedMode:
		return "elapsed"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Action is a pre- or post-trigger hook.
type Action func(id uint64) error

// ReadyFunc decides whether the hardware can accept trigger id. A refused
// trigger is logged and skipped without consuming the id.
type ReadyFunc func(id uint64) bool

func noAction(uint64) error { return nil }

// Emitter is implemented by *Manager.
type Emitter interface {
	Start() error
	Stop() error
	Pause(pause bool) error
	IsRunning() bool
	TriggerID() uint64
	Wait() error
}

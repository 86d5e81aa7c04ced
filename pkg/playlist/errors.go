package playlist

import (
	"errors"
	"fmt"

	"github.com/portplayer/portplayer/pkg/runctl"
)

var (
	// ErrConfiguration is matched by every error produced while parsing
	// playlist or duration text.
	ErrConfiguration = errors.New("configuration error")
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = runctl.ErrAlreadyRunning
	// ErrRunning is returned by setters that are only valid while stopped.
	ErrRunning = errors.New("player is running")
	// ErrStateOutOfRange is returned by SetCurrentState for an unknown index.
	ErrStateOutOfRange = errors.New("state index out of range")
)

// FormatError reports a malformed token.
type FormatError struct {
	Token    string
	Position int
	Reason   string
}

func (e *FormatError) Error() string {
	if e.Token == "" {
		return e.Reason
	}
	return fmt.Sprintf("token %d (%q): %s", e.Position, e.Token, e.Reason)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrConfiguration
}

// CountMismatchError reports a duration list whose length differs from the
// number of states.
type CountMismatchError struct {
	States    int
	Durations int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("number of duration fields (%d) is not equal to the number of states in the playlist (%d)", e.Durations, e.States)
}

func (e *CountMismatchError) Is(target error) bool {
	return target == ErrConfiguration
}

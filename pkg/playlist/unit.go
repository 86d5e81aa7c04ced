package playlist

import (
	"fmt"
	"strings"
	"time"
)

// Unit is the time unit duration text is written in. The numeric values
// match the stored profile setting.
type Unit int

const (
	Minute Unit = iota
	Second
	Millisecond
)

// ParseUnit accepts "min", "s" and "ms".
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "min":
		return Minute, nil
	case "s":
		return Second, nil
	case "ms", "":
		return Millisecond, nil
	}
	return 0, &FormatError{Token: s, Reason: "unknown duration unit, expected min, s or ms"}
}

// Duration returns the length of one unit.
func (u Unit) Duration() time.Duration {
	switch u {
	case Minute:
		return time.Minute
	case Second:
		return time.Second
	}
	return time.Millisecond
}

func (u Unit) String() string {
	switch u {
	case Minute:
		return "min"
	case Second:
		return "s"
	case Millisecond:
		return "ms"
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

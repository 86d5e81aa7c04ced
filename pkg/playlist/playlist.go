// Package playlist parses boolean playlists and plays them back with a
// dedicated timer-paced worker.
//
// A playlist is an ordered list of states. Every state holds exactly
// NumItems booleans, one per output. Each state has a duration; durations
// are kept in the same order as the states.
package playlist

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// State is one output vector.
type State []bool

// Clone returns a copy of s.
func (s State) Clone() State {
	return append(State(nil), s...)
}

// String renders s as a string of '0' and '1'.
func (s State) String() string {
	var b strings.Builder
	b.Grow(len(s))
	for _, v := range s {
		if v {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

const defaultDuration = time.Millisecond

// Playlist is a list of fixed-width states and their durations.
// It is not safe for concurrent use; Player takes a private copy on Start.
type Playlist struct {
	numItems  int
	states    []State
	durations []time.Duration
}

// New returns a playlist of one all-false state lasting 1 ms.
func New(numItems int) *Playlist {
	p := &Playlist{numItems: numItems}
	p.Reset()
	return p
}

// Reset restores the single default state.
func (p *Playlist) Reset() {
	p.states = []State{make(State, p.numItems)}
	p.durations = []time.Duration{defaultDuration}
}

// LoadPlaylist parses whitespace separated tokens, one per state. Each
// token must be exactly NumItems characters of '0' (false) or '1' (true).
// On success every duration is reset to 1 ms,
// so durations must be loaded afterwards. On error p is unchanged.
func (p *Playlist) LoadPlaylist(text string) error {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return &FormatError{Reason: "playlist is empty"}
	}
	states := make([]State, 0, len(tokens))
	for i, tok := range tokens {
		if len(tok) != p.numItems {
			return &FormatError{
				Token:    tok,
				Position: i,
				Reason:   "a state must have exactly " + strconv.Itoa(p.numItems) + " binary elements",
			}
		}
		st := make(State, p.numItems)
		for j := 0; j < p.numItems; j++ {
			switch tok[j] {
			case '0':
			case '1':
				st[j] = true
			default:
				return &FormatError{
					Token:    tok,
					Position: i,
					Reason:   fmt.Sprintf("unexpected %q at element %d, a state holds only 0 and 1", tok[j], j),
				}
			}
		}
		states = append(states, st)
	}
	p.states = states
	p.durations = make([]time.Duration, len(states))
	for i := range p.durations {
		p.durations[i] = defaultDuration
	}
	return nil
}

// LoadStateDurations parses one positive millisecond count per state.
func (p *Playlist) LoadStateDurations(text string) error {
	return p.LoadStateDurationsIn(text, Millisecond)
}

// LoadStateDurationsIn parses one positive count of unit per state.
// Counts that do not fit in a time.Duration are rejected. On error the
// previous durations are kept.
func (p *Playlist) LoadStateDurationsIn(text string, unit Unit) error {
	tokens := strings.Fields(text)
	durations := make([]time.Duration, 0, len(tokens))
	limit := uint64(math.MaxInt64 / int64(unit.Duration()))
	for i, tok := range tokens {
		n, err := strconv.ParseUint(tok, 10, 32)
		if err != nil || n == 0 {
			return &FormatError{Token: tok, Position: i, Reason: "duration must be a positive integer"}
		}
		if n > limit {
			return &FormatError{Token: tok, Position: i, Reason: "duration is too long, at most " + strconv.FormatUint(limit, 10) + " " + unit.String()}
		}
		durations = append(durations, time.Duration(n)*unit.Duration())
	}
	if len(durations) != len(p.states) {
		return &CountMismatchError{States: len(p.states), Durations: len(durations)}
	}
	p.durations = durations
	return nil
}

// ExportPlaylist renders the states as space separated tokens.
func (p *Playlist) ExportPlaylist() string {
	if p.numItems == 0 || len(p.states) == 0 {
		return ""
	}
	out := make([]string, len(p.states))
	for i, st := range p.states {
		out[i] = st.String()
	}
	return strings.Join(out, " ")
}

// ExportStateDurations renders the durations in milliseconds.
func (p *Playlist) ExportStateDurations() string {
	return p.ExportStateDurationsIn(Millisecond)
}

// ExportStateDurationsIn renders the durations in unit, truncating.
func (p *Playlist) ExportStateDurationsIn(unit Unit) string {
	out := make([]string, len(p.durations))
	for i, d := range p.durations {
		out[i] = strconv.FormatInt(int64(d/unit.Duration()), 10)
	}
	return strings.Join(out, " ")
}

// NumItems returns the width of every state.
func (p *Playlist) NumItems() int { return p.numItems }

// NumStates returns the number of states.
func (p *Playlist) NumStates() int { return len(p.states) }

// State returns a copy of state i.
func (p *Playlist) State(i int) State { return p.states[i].Clone() }

// States returns a deep copy of the states.
func (p *Playlist) States() []State {
	out := make([]State, len(p.states))
	for i, st := range p.states {
		out[i] = st.Clone()
	}
	return out
}

// Durations returns a copy of the durations.
func (p *Playlist) Durations() []time.Duration {
	return append([]time.Duration(nil), p.durations...)
}

// TotalTime is the sum of all state durations.
func (p *Playlist) TotalTime() time.Duration {
	var total time.Duration
	for _, d := range p.durations {
		total += d
	}
	return total
}

// Clone returns a deep copy of p.
func (p *Playlist) Clone() *Playlist {
	return &Playlist{
		numItems:  p.numItems,
		states:    p.States(),
		durations: p.Durations(),
	}
}

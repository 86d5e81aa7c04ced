// Package pins drives binary outputs from playlist states.
//
// A pin list is written as whitespace separated triples
//
//	name address index
//
// where address is a hexadecimal base (the I/O port of a parallel port or
// the base number of a GPIO chip) and index is the bit or line offset from
// that base. The list "pin0 0x378 0 pin1 0x378 1" declares two pins on the
// first two data lines of a parallel port.
package pins

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/playlist"
)

var (
	// ErrInvalidPinList is returned by Load for a malformed pin list.
	ErrInvalidPinList = errors.New("invalid pin list format")
	// ErrWidthMismatch is returned by ApplyState when the state width
	// differs from the number of pins.
	ErrWidthMismatch = errors.New("state width does not match the number of pins")
)

// Pin is one binary output.
type Pin interface {
	Name() string
	Set(high bool) error
	High() (bool, error)
}

// Spec describes one pin of a pin list.
type Spec struct {
	Name    string
	Address uint32
	Index   uint32
}

func (s Spec) String() string {
	return fmt.Sprintf("%s %#x %d", s.Name, s.Address, s.Index)
}

// Backend opens pins on a concrete kind of hardware.
type Backend interface {
	Open(spec Spec) (Pin, error)
	Close() error
}

// ParseList parses a pin list.
func ParseList(list string) ([]Spec, error) {
	tokens := strings.Fields(list)
	if len(tokens)%3 != 0 {
		return nil, fmt.Errorf("%w: %d tokens is not a multiple of 3", ErrInvalidPinList, len(tokens))
	}
	specs := make([]Spec, 0, len(tokens)/3)
	for i := 0; i < len(tokens); i += 3 {
		name := tokens[i]
		addr, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(tokens[i+1]), "0x"), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: pin %q: address %q is not hexadecimal", ErrInvalidPinList, name, tokens[i+1])
		}
		idx, err := strconv.ParseUint(tokens[i+2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: pin %q: index %q is not a number", ErrInvalidPinList, name, tokens[i+2])
		}
		specs = append(specs, Spec{Name: name, Address: uint32(addr), Index: uint32(idx)})
	}
	return specs, nil
}

// FormatList renders specs in the pin list format.
func FormatList(specs []Spec) string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.String()
	}
	return strings.Join(out, " ")
}

// Manager owns the pins of one backend and applies playlist states to
// them. It implements playlist.StateSink.
type Manager struct {
	mu      sync.Mutex
	backend Backend
	specs   []Spec
	pins    []Pin
	log     logger.Logger
}

var _ playlist.StateSink = (*Manager)(nil)

// NewManager returns a manager without pins.
func NewManager(b Backend, l logger.Logger) *Manager {
	return &Manager{backend: b, log: logger.Prefixed(l, "pins")}
}

// Load replaces the pins with the ones declared in list. Every new pin is
// driven low. On error the previous pins are kept.
func (m *Manager) Load(list string) error {
	specs, err := ParseList(list)
	if err != nil {
		return err
	}
	pins := make([]Pin, 0, len(specs))
	for _, s := range specs {
		p, err := m.backend.Open(s)
		if err == nil {
			err = p.Set(false)
		}
		if err != nil {
			return fmt.Errorf("unable to initialize pin %q: %w", s.Name, err)
		}
		m.log.Info("Pin: name = %s, address = %#x, index = %d, state = low", s.Name, s.Address, s.Index)
		pins = append(pins, p)
	}

	m.mu.Lock()
	m.specs = specs
	m.pins = pins
	m.mu.Unlock()
	return nil
}

// Save renders the current pins in the pin list format.
func (m *Manager) Save() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return FormatList(m.specs)
}

// NumPins returns the number of pins, which is the playlist width.
func (m *Manager) NumPins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pins)
}

// Names returns the pin names in list order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.specs))
	for i, s := range m.specs {
		names[i] = s.Name
	}
	return names
}

// Specs returns a copy of the pin specs.
func (m *Manager) Specs() []Spec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Spec(nil), m.specs...)
}

// ApplyState drives pin i to state[i]. Every pin is attempted; the
// failures are returned together.
func (m *Manager) ApplyState(index int, state playlist.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(state) != len(m.pins) {
		return fmt.Errorf("state %d: %w (%d != %d)", index, ErrWidthMismatch, len(state), len(m.pins))
	}
	var result *multierror.Error
	for i, p := range m.pins {
		if err := p.Set(state[i]); err != nil {
			result = multierror.Append(result, fmt.Errorf("pin %q: %w", p.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// SetAllLow drives every pin low.
func (m *Manager) SetAllLow() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result *multierror.Error
	for _, p := range m.pins {
		if err := p.Set(false); err != nil {
			result = multierror.Append(result, fmt.Errorf("pin %q: %w", p.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// State reads every pin.
func (m *Manager) State() (playlist.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := make(playlist.State, len(m.pins))
	var result *multierror.Error
	for i, p := range m.pins {
		high, err := p.High()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("pin %q: %w", p.Name(), err))
			continue
		}
		state[i] = high
	}
	return state, result.ErrorOrNil()
}

// Close drives every pin low and releases the backend.
func (m *Manager) Close() error {
	var result *multierror.Error
	if err := m.SetAllLow(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.backend.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	m.mu.Lock()
	m.pins = nil
	m.specs = nil
	m.mu.Unlock()
	return result.ErrorOrNil()
}

package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/portplayer/portplayer/pkg/pins"
	"github.com/portplayer/portplayer/pkg/playlist"
	"github.com/portplayer/portplayer/pkg/trigger"
)

// Output backends a profile can name.
const (
	BackendParport = "parport"
	BackendGPIO    = "gpio"
	BackendMemory  = "memory"
)

// Profile is a saved output configuration: the pins, the playlist played
// on them and the trigger settings.
type Profile struct {
	Name    string
	Backend string
	// Device is the ppdev path for the parport backend or the sysfs root
	// for the gpio backend.
	Device         string
	Pins           string
	Playlist       string
	Durations      string
	Unit           playlist.Unit
	Repeat         bool
	UpdateInterval time.Duration
	TriggerPeriod  time.Duration
	TriggerMode    string
	// Script is the path of an optional hook script.
	Script    string
	UpdatedAt time.Time
}

// Example returns the eight pin parallel port demo profile.
func Example() *Profile {
	return &Profile{
		Name:           "example",
		Backend:        BackendParport,
		Device:         "/dev/parport0",
		Pins:           "pin0 0x327 0 pin1 0x327 1 pin2 0x327 2 pin3 0x327 3 pin4 0x327 4 pin5 0x327 5 pin6 0x327 6 pin7 0x327 7",
		Playlist:       "10000000 01000000",
		Durations:      "5 5",
		Unit:           playlist.Millisecond,
		UpdateInterval: playlist.DefaultUpdateInterval,
		TriggerPeriod:  trigger.DefaultPeriod,
		TriggerMode:    trigger.TickMode.String(),
	}
}

// Validate checks every field Build and the trigger setup depend on.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return errors.New("profile name is empty")
	}
	switch p.Backend {
	case BackendParport, BackendGPIO, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", p.Backend)
	}
	if _, err := trigger.ParseMode(p.TriggerMode); err != nil {
		return err
	}
	if p.UpdateInterval < 0 || p.TriggerPeriod < 0 {
		return errors.New("intervals must not be negative")
	}
	_, err := p.Build()
	return err
}

// Build parses the pin list, playlist and durations into a playlist whose
// width is the number of pins.
func (p *Profile) Build() (*playlist.Playlist, error) {
	specs, err := pins.ParseList(p.Pins)
	if err != nil {
		return nil, err
	}
	pl := playlist.New(len(specs))
	if p.Playlist == "" {
		return pl, nil
	}
	if err := pl.LoadPlaylist(p.Playlist); err != nil {
		return nil, err
	}
	if p.Durations != "" {
		if err := pl.LoadStateDurationsIn(p.Durations, p.Unit); err != nil {
			return nil, err
		}
	}
	return pl, nil
}

// OpenBackend returns the pin backend the profile names.
func (p *Profile) OpenBackend() pins.Backend {
	switch p.Backend {
	case BackendParport:
		return pins.NewParallelPortBackend(p.Device)
	case BackendGPIO:
		b := pins.NewGPIOBackend()
		if p.Device != "" {
			b.Root = p.Device
		}
		return b
	}
	return pins.NewMemoryBackend()
}

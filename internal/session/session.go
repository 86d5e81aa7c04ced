// Package session assembles the runtime objects for one profile: the pin
// outputs, the playlist player driving them, the trigger manager and the
// optional hook script. The CLI and the daemon both build their runs here.
package session

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/portplayer/portplayer/internal/script"
	"github.com/portplayer/portplayer/internal/store"
	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/pins"
	"github.com/portplayer/portplayer/pkg/playlist"
	"github.com/portplayer/portplayer/pkg/rt"
	"github.com/portplayer/portplayer/pkg/timerfd"
	"github.com/portplayer/portplayer/pkg/trigger"
)

// Options configures Open. Every field is optional.
type Options struct {
	Logger   logger.Logger
	Promoter rt.Promoter
	// Backend replaces the backend the profile names.
	Backend pins.Backend
	// ScriptFs is where the hook script and its modules are read from.
	ScriptFs afero.Fs
	// Handlers receive player events. StateChangedHandler is chained after
	// the script's stateChanged hook.
	Handlers *playlist.Handlers
	// OnTrigger is registered as a trigger listener.
	OnTrigger func(id uint64)
	// OnTriggerDone is called when a trigger run ends.
	OnTriggerDone func()

	TimerFactory timerfd.Factory
	Clock        timerfd.Stopwatch
}

// Session owns the outputs of one profile until Close.
type Session struct {
	Profile *store.Profile
	Pins    *pins.Manager
	Player  *playlist.Player
	Trigger *trigger.Manager
	// Script is nil when the profile has no hook script.
	Script *script.Engine

	mu     sync.Mutex
	closed bool
	log    logger.Logger
}

// Open validates p, opens its pins and builds a stopped player and
// trigger manager. Every pin is low when Open returns.
func Open(p *store.Profile, opts *Options) (*Session, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	pl, err := p.Build()
	if err != nil {
		return nil, err
	}
	mode, err := trigger.ParseMode(p.TriggerMode)
	if err != nil {
		return nil, err
	}
	backend := opts.Backend
	if backend == nil {
		backend = p.OpenBackend()
	}
	pm := pins.NewManager(backend, opts.Logger)
	if err := pm.Load(p.Pins); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("open pins of %q: %w", p.Name, err)
	}

	s := &Session{
		Profile: p,
		Pins:    pm,
		log:     logger.Prefixed(opts.Logger, "session"),
	}

	var hooks *script.Hooks
	if p.Script != "" {
		s.Script = script.New(opts.ScriptFs, opts.Logger)
		if err := s.Script.LoadFile(p.Script); err != nil {
			_ = pm.Close()
			return nil, err
		}
		hooks = s.Script.Hooks()
	}

	h := &playlist.Handlers{}
	if opts.Handlers != nil {
		*h = *opts.Handlers
	}
	h.StateChangedHandler = chainStateChanged(hooks, h.StateChangedHandler)

	s.Player = playlist.NewPlayer(pl, &playlist.PlayerOpts{
		Sink:           pm,
		Handlers:       h,
		Logger:         opts.Logger,
		Promoter:       opts.Promoter,
		TimerFactory:   opts.TimerFactory,
		Clock:          opts.Clock,
		UpdateInterval: p.UpdateInterval,
		Repeat:         p.Repeat,
	})
	s.Trigger = trigger.New(&trigger.Opts{
		Period:       p.TriggerPeriod,
		Mode:         mode,
		Logger:       opts.Logger,
		Promoter:     opts.Promoter,
		TimerFactory: opts.TimerFactory,
		Clock:        opts.Clock,
	})
	if hooks != nil {
		if err := hooks.Apply(s.Trigger); err != nil {
			_ = pm.Close()
			return nil, err
		}
	}
	if opts.OnTrigger != nil {
		s.Trigger.OnTrigger(opts.OnTrigger)
	}
	if opts.OnTriggerDone != nil {
		s.Trigger.OnDone(opts.OnTriggerDone)
	}
	return s, nil
}

func chainStateChanged(hooks *script.Hooks, next playlist.StateChangedHandlerFunc) playlist.StateChangedHandlerFunc {
	var hook func(int)
	if hooks != nil {
		hook = hooks.StateChanged
	}
	switch {
	case hook == nil:
		return next
	case next == nil:
		return hook
	}
	return func(index int) {
		hook(index)
		next(index)
	}
}

// Busy reports whether the player or the trigger manager is running.
func (s *Session) Busy() bool {
	return s.Player.IsRunning() || s.Trigger.IsRunning()
}

// Close stops both workers and closes the pins, which drives them low. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var result *multierror.Error
	if err := s.Player.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop player: %w", err))
	}
	if err := s.Trigger.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop trigger: %w", err))
	}
	if err := s.Pins.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	s.log.Debug("Closed session for %q.", s.Profile.Name)
	return result.ErrorOrNil()
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

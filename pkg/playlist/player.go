package playlist

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/rt"
	"github.com/portplayer/portplayer/pkg/runctl"
	"github.com/portplayer/portplayer/pkg/timerfd"
)

// DefaultUpdateInterval is the progress refresh period. It is unrelated to
// state durations.
const DefaultUpdateInterval = 10 * time.Millisecond

// StateSink applies a state to the outputs. Errors are reported through
// Handlers.ErrorHandler and never stop the player.
type StateSink interface {
	ApplyState(index int, state State) error
}

// PlayerOpts configures a Player. Every field is optional.
type PlayerOpts struct {
	Sink     StateSink
	Handlers *Handlers
	Logger   logger.Logger
	Promoter rt.Promoter
	// TimerFactory builds the refresh timer. Defaults to the OS timer.
	TimerFactory timerfd.Factory
	// Clock measures running time. Defaults to the monotonic clock.
	Clock          timerfd.Stopwatch
	UpdateInterval time.Duration
	Repeat         bool
}

// Player steps through a Playlist on a dedicated goroutine locked to its
// OS thread. The playlist is copied on Start, so the caller may edit it
// while a run is in progress; the edits apply to the next run.
type Player struct {
	mu       sync.Mutex
	pl       *Playlist
	current  int
	repeat   bool
	interval time.Duration

	sink     StateSink
	handlers *Handlers
	log      logger.Logger
	promoter rt.Promoter
	newTimer timerfd.Factory
	clock    timerfd.Stopwatch
	ctl      *runctl.Controller
}

// NewPlayer returns a stopped player for pl. A nil pl gets a one-item
// default playlist.
func NewPlayer(pl *Playlist, opts *PlayerOpts) *Player {
	if pl == nil {
		pl = New(1)
	}
	if opts == nil {
		opts = &PlayerOpts{}
	}
	h := opts.Handlers
	if h == nil {
		h = &Handlers{}
	}
	h.setDefault()
	p := &Player{
		pl:       pl,
		repeat:   opts.Repeat,
		interval: opts.UpdateInterval,
		sink:     opts.Sink,
		handlers: h,
		log:      logger.Prefixed(opts.Logger, "playlist"),
		promoter: opts.Promoter,
		newTimer: opts.TimerFactory,
		clock:    opts.Clock,
		ctl:      runctl.New(),
	}
	if p.interval <= 0 {
		p.interval = DefaultUpdateInterval
	}
	if p.promoter == nil {
		p.promoter = rt.NopPromoter{}
	}
	if p.newTimer == nil {
		p.newTimer = timerfd.DefaultFactory
	}
	if p.clock == nil {
		p.clock = timerfd.NewStopwatch()
	}
	return p
}

// Playlist returns the playlist edited by LoadPlaylist and
// LoadStateDurations.
func (p *Player) Playlist() *Playlist {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pl
}

// LoadPlaylist parses text into the player's playlist and rewinds to
// state 0. A running player keeps playing its own copy.
func (p *Player) LoadPlaylist(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.pl.LoadPlaylist(text); err != nil {
		return err
	}
	p.current = 0
	return nil
}

// LoadStateDurations parses text in unit into the player's playlist.
func (p *Player) LoadStateDurations(text string, unit Unit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pl.LoadStateDurationsIn(text, unit)
}

// Start copies the playlist, applies the current state to the sink and
// starts the worker. Timer failures are returned before Start returns.
func (p *Player) Start() error {
	p.mu.Lock()
	snap := p.pl.Clone()
	first := p.current
	if first >= snap.NumStates() {
		first = 0
	}
	interval := p.interval
	p.mu.Unlock()

	ready := make(chan error, 1)
	err := p.ctl.Start(func() error {
		return p.run(snap, first, interval, ready)
	})
	if err != nil {
		return err
	}
	return p.ctl.WaitReady(ready)
}

// Stop ends the run and waits for the worker. Stopping a stopped player
// is a no-op. It must not be called from a handler.
func (p *Player) Stop() error {
	return p.ctl.Stop()
}

// Pause suspends or resumes playback. Paused time does not count towards
// state durations.
func (p *Player) Pause(pause bool) error {
	if pause && !p.ctl.IsPaused() && p.ctl.IsRunning() {
		p.log.Info("Suspending playlist.")
	}
	return p.ctl.Pause(pause)
}

// Wait blocks until the worker exits and returns its error.
func (p *Player) Wait() error {
	return p.ctl.Wait()
}

// Done is closed when the current run ends.
func (p *Player) Done() <-chan struct{} {
	return p.ctl.Done()
}

// Err returns the error of the last run.
func (p *Player) Err() error {
	return p.ctl.Err()
}

// IsRunning reports whether a run is active.
func (p *Player) IsRunning() bool {
	return p.ctl.IsRunning()
}

// State returns the lifecycle state.
func (p *Player) State() runctl.State {
	return p.ctl.State()
}

// SetRepeat sets whether the playlist wraps to state 0 after the last
// state. It takes effect immediately, also during a run.
func (p *Player) SetRepeat(repeat bool) {
	p.mu.Lock()
	p.repeat = repeat
	p.mu.Unlock()
}

// Repeat reports the repeat flag.
func (p *Player) Repeat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeat
}

// SetCurrentState selects the state the next run starts in.
func (p *Player) SetCurrentState(i int) error {
	if p.ctl.IsRunning() {
		return ErrRunning
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= p.pl.NumStates() {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrStateOutOfRange, i, p.pl.NumStates())
	}
	p.current = i
	return nil
}

// CurrentState returns the index of the state being played, or the
// state the next run starts in.
func (p *Player) CurrentState() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// SetUpdateInterval sets the progress refresh period for the next run.
func (p *Player) SetUpdateInterval(d time.Duration) error {
	if p.ctl.IsRunning() {
		return ErrRunning
	}
	if d <= 0 {
		return fmt.Errorf("update interval must be positive, got %v", d)
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
	return nil
}

// UpdateInterval returns the progress refresh period.
func (p *Player) UpdateInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Player) apply(pl *Playlist, index int) {
	if p.sink == nil {
		return
	}
	if err := p.sink.ApplyState(index, pl.State(index)); err != nil {
		p.log.Error("Unable to apply state %d: %v", index, err)
		p.handlers.ErrorHandler(err)
	}
}

func (p *Player) run(pl *Playlist, index int, interval time.Duration, ready chan<- error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rt.PromoteOrWarn(p.promoter, p.log, "playlist")

	timer := p.newTimer(timerfd.Spec{Interval: interval})
	if err := timer.Start(); err != nil {
		ready <- err
		return err
	}
	ready <- nil

	p.mu.Lock()
	p.current = index
	p.mu.Unlock()
	p.apply(pl, index)

	h := p.handlers
	last := pl.NumStates() - 1
	var (
		t, playlistBase, stateBase, pauseOffset time.Duration
		err                                     error
		// the timer keeps expiring while paused
		resumed bool
	)
	p.clock.Start()
	for !p.ctl.Aborting() {
		if !p.ctl.IsPaused() {
			n, werr := timer.Wait()
			if werr != nil {
				p.log.Warning("Playlist timer read failed: %v", werr)
				h.ErrorHandler(werr)
				time.Sleep(interval)
			} else if n > 1 && !resumed {
				p.log.Warning("Playlist timer missed %d events.", n-1)
			}
			resumed = false

			t = p.clock.Elapsed() - pauseOffset
			h.PlaylistTimeHandler(t - playlistBase)
			h.StateTimeHandler(t - stateBase)

			changed := false
			p.mu.Lock()
			if t-stateBase > pl.durations[index] {
				switch {
				case index < last:
					index++
					stateBase = t
					changed = true
				case p.repeat:
					index = 0
					playlistBase = t
					stateBase = t
					changed = true
				default:
					p.ctl.Abort()
				}
				p.current = index
			}
			p.mu.Unlock()

			if changed {
				h.StateChangedHandler(index)
				p.apply(pl, index)
			}
		}

		paused := p.ctl.IsPaused()
		held, perr := p.ctl.WaitWhilePaused(p.clock)
		if perr != nil {
			p.log.Error("Unable to suspend playlist: %v", perr)
			err = perr
			break
		}
		if paused {
			resumed = true
		}
		if held > 0 {
			pauseOffset += held
			p.log.Info("Resuming playlist after a break of %.3f seconds.", held.Seconds())
		}
	}

	h.PlaylistTimeHandler(t - playlistBase)
	h.StateTimeHandler(t - stateBase)
	h.DoneHandler()

	if serr := timer.Stop(); serr != nil {
		p.log.Error("Unable to stop playlist timer: %v", serr)
		if err == nil {
			err = serr
		}
	}
	return err
}

package trigger

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/rt"
	"github.com/portplayer/portplayer/pkg/runctl"
	"github.com/portplayer/portplayer/pkg/timerfd"
)

// Opts configures a Manager. Every field is optional.
type Opts struct {
	Period      time.Duration
	Mode        Mode
	PreTrigger  Action
	PostTrigger Action
	Ready       ReadyFunc
	Logger      logger.Logger
	Promoter    rt.Promoter
	// TimerFactory builds the TickMode timer. Defaults to the OS timer.
	TimerFactory timerfd.Factory
	// Clock measures running time in ElapsedMode.
	Clock timerfd.Stopwatch
	// PollInterval is the ElapsedMode sleep between clock reads.
	PollInterval time.Duration
}

type config struct {
	period time.Duration
	mode   Mode
	pre    Action
	post   Action
	ready  ReadyFunc
}

// Manager fires triggers until stopped.
type Manager struct {
	mu        sync.Mutex
	cfg       config
	onTrigger []func(id uint64)
	onDone    []func()

	next     atomic.Uint64
	log      logger.Logger
	promoter rt.Promoter
	newTimer timerfd.Factory
	clock    timerfd.Stopwatch
	poll     time.Duration
	ctl      *runctl.Controller
}

var _ Emitter = (*Manager)(nil)

// New returns a stopped manager.
func New(opts *Opts) *Manager {
	if opts == nil {
		opts = &Opts{}
	}
	m := &Manager{
		cfg: config{
			period: opts.Period,
			mode:   opts.Mode,
			pre:    opts.PreTrigger,
			post:   opts.PostTrigger,
			ready:  opts.Ready,
		},
		log:      logger.Prefixed(opts.Logger, "trigger"),
		promoter: opts.Promoter,
		newTimer: opts.TimerFactory,
		clock:    opts.Clock,
		poll:     opts.PollInterval,
		ctl:      runctl.New(),
	}
	if m.cfg.period <= 0 {
		m.cfg.period = DefaultPeriod
	}
	if m.cfg.pre == nil {
		m.cfg.pre = noAction
	}
	if m.cfg.post == nil {
		m.cfg.post = noAction
	}
	if m.promoter == nil {
		m.promoter = rt.NopPromoter{}
	}
	if m.newTimer == nil {
		m.newTimer = timerfd.DefaultFactory
	}
	if m.clock == nil {
		m.clock = timerfd.NewStopwatch()
	}
	if m.poll <= 0 {
		m.poll = 100 * time.Microsecond
	}
	return m
}

// OnTrigger registers a listener called with every fired trigger id.
func (m *Manager) OnTrigger(fn func(id uint64)) {
	m.mu.Lock()
	m.onTrigger = append(m.onTrigger, fn)
	m.mu.Unlock()
}

// OnDone registers a listener called once when a run ends.
func (m *Manager) OnDone(fn func()) {
	m.mu.Lock()
	m.onDone = append(m.onDone, fn)
	m.mu.Unlock()
}

func (m *Manager) set(fn func(c *config) error) error {
	if m.ctl.IsRunning() {
		return ErrRunning
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&m.cfg)
}

// SetPeriod sets the trigger period.
func (m *Manager) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidPeriod
	}
	return m.set(func(c *config) error { c.period = d; return nil })
}

// Period returns the trigger period.
func (m *Manager) Period() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.period
}

// SetMode sets the pacing mode.
func (m *Manager) SetMode(mode Mode) error {
	return m.set(func(c *config) error { c.mode = mode; return nil })
}

// Mode returns the pacing mode.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.mode
}

// SetPreTriggerAction sets the hook run before listeners are notified.
// A nil action restores the no-op default.
func (m *Manager) SetPreTriggerAction(a Action) error {
	if a == nil {
		a = noAction
	}
	return m.set(func(c *config) error { c.pre = a; return nil })
}

// SetPostTriggerAction sets the hook run after listeners are notified.
func (m *Manager) SetPostTriggerAction(a Action) error {
	if a == nil {
		a = noAction
	}
	return m.set(func(c *config) error { c.post = a; return nil })
}

// SetReady sets the readiness check. nil accepts every trigger.
func (m *Manager) SetReady(r ReadyFunc) error {
	return m.set(func(c *config) error { c.ready = r; return nil })
}

// TriggerID returns the id the next trigger will carry, which is also the
// number of triggers fired since Start.
func (m *Manager) TriggerID() uint64 {
	return m.next.Load()
}

// IsRunning reports whether a run is active.
func (m *Manager) IsRunning() bool {
	return m.ctl.IsRunning()
}

// State returns the lifecycle state.
func (m *Manager) State() runctl.State {
	return m.ctl.State()
}

// Start resets the trigger id to 0 and starts the worker.
func (m *Manager) Start() error {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	ready := make(chan error, 1)
	err := m.ctl.Start(func() error {
		return m.run(cfg, ready)
	})
	if err != nil {
		return err
	}
	return m.ctl.WaitReady(ready)
}

// Stop ends the run and waits for the worker. It is a no-op when stopped
// and must not be called from a hook or listener.
func (m *Manager) Stop() error {
	return m.ctl.Stop()
}

// Pause suspends or resumes triggering.
func (m *Manager) Pause(pause bool) error {
	if m.ctl.IsRunning() && pause != m.ctl.IsPaused() {
		if pause {
			m.log.Info("Suspending trigger manager.")
		} else {
			m.log.Info("Resuming trigger manager.")
		}
	}
	return m.ctl.Pause(pause)
}

// Wait blocks until the worker exits.
func (m *Manager) Wait() error {
	return m.ctl.Wait()
}

// Done is closed when the current run ends.
func (m *Manager) Done() <-chan struct{} {
	return m.ctl.Done()
}

func (m *Manager) listeners() ([]func(uint64), []func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]func(uint64){}, m.onTrigger...), append([]func(){}, m.onDone...)
}

func (m *Manager) fire(cfg config) {
	id := m.next.Load()
	if cfg.ready != nil && !cfg.ready(id) {
		m.log.Warning("===== TRIGGER %d REFUSED =====", id)
		return
	}
	if err := cfg.pre(id); err != nil {
		m.log.Warning("Trigger %d failed: %v", id, err)
		return
	}
	fns, _ := m.listeners()
	for _, fn := range fns {
		fn(id)
	}
	if err := cfg.post(id); err != nil {
		m.log.Warning("Post-trigger action %d failed: %v", id, err)
	}
	m.next.Store(id + 1)
}

func (m *Manager) run(cfg config, ready chan<- error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	m.next.Store(0)
	rt.PromoteOrWarn(m.promoter, m.log, "trigger manager")

	var err error
	if cfg.mode == ElapsedMode {
		ready <- nil
		err = m.runElapsed(cfg)
	} else {
		timer := m.newTimer(timerfd.Spec{Interval: cfg.period})
		if err := timer.Start(); err != nil {
			ready <- err
			return err
		}
		ready <- nil
		err = m.runTicks(cfg, timer)
		if serr := timer.Stop(); serr != nil {
			m.log.Error("Unable to stop trigger timer: %v", serr)
			if err == nil {
				err = serr
			}
		}
	}

	_, done := m.listeners()
	for _, fn := range done {
		fn()
	}
	return err
}

func (m *Manager) runTicks(cfg config, timer timerfd.Periodic) error {
	// the timer keeps expiring while paused
	resumed := false
	for !m.ctl.Aborting() {
		if !m.ctl.IsPaused() {
			n, err := timer.Wait()
			switch {
			case err != nil:
				m.log.Warning("Trigger timer read failed: %v", err)
				time.Sleep(cfg.period)
			case n > 1 && !resumed:
				m.log.Warning("Trigger manager timer missed %d events.", n-1)
				fallthrough
			default:
				if !m.ctl.Aborting() {
					m.fire(cfg)
				}
			}
			resumed = false
		}
		paused := m.ctl.IsPaused()
		if _, err := m.ctl.WaitWhilePaused(m.clock); err != nil {
			m.log.Error("Unable to suspend trigger manager: %v", err)
			return err
		}
		if paused {
			resumed = true
		}
	}
	return nil
}

func (m *Manager) runElapsed(cfg config) error {
	var t, base, offset time.Duration
	m.clock.Start()
	for !m.ctl.Aborting() {
		if !m.ctl.IsPaused() {
			t = m.clock.Elapsed() - offset
			if t-base > cfg.period {
				base = t
				m.fire(cfg)
			} else {
				time.Sleep(m.poll)
			}
		}
		held, err := m.ctl.WaitWhilePaused(m.clock)
		if err != nil {
			m.log.Error("Unable to suspend trigger manager: %v", err)
			return err
		}
		offset += held
	}
	return nil
}

package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/portplayer/portplayer/common"
	"github.com/portplayer/portplayer/internal/scheduler"
	"github.com/portplayer/portplayer/internal/session"
	"github.com/portplayer/portplayer/internal/store"
	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/playlist"
	"github.com/portplayer/portplayer/pkg/trigger"
)

// progressEvery throttles player.progress notifications.
const progressEvery = 100 * time.Millisecond

var (
	errNoProfile = errors.New("no profile loaded")
	errBusy      = errors.New("a run is in progress")
)

// controller owns the loaded session and the run bookkeeping around it.
// RPC handlers and the scheduler both go through it.
type controller struct {
	mu           sync.Mutex
	store        *store.Store
	notify       *Notifier
	log          logger.Logger
	base         session.Options
	rateInterval time.Duration

	sess        *session.Session
	playRun     *store.Run
	trigRun     *store.Run
	playStopped bool
	trigStopped bool
	rate        atomic.Pointer[trigger.RateMonitor]
	rateBits    atomic.Uint64
	triggers    atomic.Uint64

	state        atomic.Int64
	playlistTime atomic.Int64
	lastProgress atomic.Int64
	epoch        time.Time

	watchers sync.WaitGroup
}

func newController(st *store.Store, n *Notifier, l logger.Logger, base session.Options, rateInterval time.Duration) *controller {
	return &controller{
		store:        st,
		notify:       n,
		log:          logger.Prefixed(l, "controller"),
		base:         base,
		rateInterval: rateInterval,
		epoch:        time.Now(),
	}
}

func (c *controller) handlers() *playlist.Handlers {
	return &playlist.Handlers{
		PlaylistTimeHandler: func(d time.Duration) {
			c.playlistTime.Store(int64(d))
		},
		StateTimeHandler: func(d time.Duration) {
			now := int64(time.Since(c.epoch))
			if now-c.lastProgress.Load() < int64(progressEvery) {
				return
			}
			c.lastProgress.Store(now)
			c.notify.Publish(common.NotifyProgress, &common.ProgressNotification{
				State:      int(c.state.Load()),
				PlaylistMs: time.Duration(c.playlistTime.Load()).Milliseconds(),
				StateMs:    d.Milliseconds(),
			})
		},
		StateChangedHandler: func(index int) {
			c.state.Store(int64(index))
			c.notify.Publish(common.NotifyStateChanged, &common.StateChangedNotification{State: index})
		},
		ErrorHandler: func(err error) {
			c.log.Warning("Player error: %v", err)
		},
	}
}

func (c *controller) onTrigger(id uint64) {
	c.triggers.Add(1)
	if r := c.rate.Load(); r != nil {
		r.Increment()
	}
	c.notify.Publish(common.NotifyTriggerFired, &common.TriggerFiredNotification{ID: id})
}

// load replaces the session with one built from the stored profile name.
func (c *controller) load(ctx context.Context, name string) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx, name)
}

func (c *controller) loadLocked(ctx context.Context, name string) (*session.Session, error) {
	if c.sess != nil && c.sess.Busy() {
		return nil, errBusy
	}
	p, err := c.store.GetProfile(ctx, name)
	if err != nil {
		return nil, err
	}
	if c.sess != nil {
		if err := c.sess.Close(); err != nil {
			c.log.Warning("Closing %q: %v", c.sess.Profile.Name, err)
		}
		c.sess = nil
	}
	opts := c.base
	opts.Handlers = c.handlers()
	opts.OnTrigger = c.onTrigger
	sess, err := session.Open(p, &opts)
	if err != nil {
		return nil, err
	}
	c.sess = sess
	c.log.Info("Loaded profile %q.", p.Name)
	return sess, nil
}

func (c *controller) session() (*session.Session, error) {
	if c.sess == nil {
		return nil, errNoProfile
	}
	return c.sess, nil
}

// startPlayer starts a playlist run, loading profile first when it is set.
func (c *controller) startPlayer(ctx context.Context, profile string, state int) (*store.Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, err := c.sessionFor(ctx, profile)
	if err != nil {
		return nil, err
	}
	if sess.Player.IsRunning() {
		return nil, playlist.ErrAlreadyRunning
	}
	if err := sess.Player.SetCurrentState(state); err != nil {
		return nil, err
	}
	run, err := c.store.StartRun(ctx, store.KindPlaylist, sess.Profile.Name)
	if err != nil {
		return nil, err
	}
	c.state.Store(int64(state))
	c.lastProgress.Store(0)
	if err := sess.Player.Start(); err != nil {
		c.finish(run, store.OutcomeFailed, 0)
		return nil, err
	}
	c.playRun = run
	c.playStopped = false
	done := sess.Player.Done()
	c.watchers.Add(1)
	go c.watchPlayer(sess, run, done)
	return run, nil
}

func (c *controller) sessionFor(ctx context.Context, profile string) (*session.Session, error) {
	if profile != "" && (c.sess == nil || c.sess.Profile.Name != profile) {
		return c.loadLocked(ctx, profile)
	}
	return c.session()
}

func (c *controller) watchPlayer(sess *session.Session, run *store.Run, done <-chan struct{}) {
	defer c.watchers.Done()
	<-done
	err := sess.Player.Err()

	c.mu.Lock()
	outcome := store.OutcomeFinished
	if c.playStopped {
		outcome = store.OutcomeStopped
	}
	if err != nil {
		outcome = store.OutcomeFailed
	}
	if c.playRun == run {
		c.playRun = nil
	}
	c.mu.Unlock()

	c.finish(run, outcome, 0)
	n := &common.DoneNotification{Profile: sess.Profile.Name, RunID: run.ID}
	if err != nil {
		n.Error = err.Error()
	}
	c.notify.Publish(common.NotifyPlayerDone, n)
}

func (c *controller) finish(run *store.Run, outcome string, triggers uint64) {
	if err := c.store.FinishRun(context.Background(), run.ID, outcome, triggers); err != nil {
		c.log.Warning("Unable to record the end of run %s: %v", run.ID, err)
	}
}

func (c *controller) stopPlayer() error {
	c.mu.Lock()
	sess, err := c.session()
	if err == nil {
		c.playStopped = true
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return sess.Player.Stop()
}

func (c *controller) pausePlayer(pause bool) error {
	c.mu.Lock()
	sess, err := c.session()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return sess.Player.Pause(pause)
}

func (c *controller) playerStatus() (*common.PlayerStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, err := c.session()
	if err != nil {
		return nil, err
	}
	pl := sess.Player.Playlist()
	st := &common.PlayerStatus{
		Profile:      sess.Profile.Name,
		State:        sess.Player.State().String(),
		CurrentState: sess.Player.CurrentState(),
		NumStates:    pl.NumStates(),
		Repeat:       sess.Player.Repeat(),
		Pins:         sess.Pins.Names(),
		TotalMs:      pl.TotalTime().Milliseconds(),
	}
	if c.playRun != nil {
		st.RunID = c.playRun.ID
	}
	return st, nil
}

// startTrigger starts a trigger run, loading profile first when it is set.
func (c *controller) startTrigger(ctx context.Context, profile string) (*store.Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, err := c.sessionFor(ctx, profile)
	if err != nil {
		return nil, err
	}
	if sess.Trigger.IsRunning() {
		return nil, trigger.ErrAlreadyRunning
	}
	run, err := c.store.StartRun(ctx, store.KindTrigger, sess.Profile.Name)
	if err != nil {
		return nil, err
	}
	rate := trigger.NewRateMonitor(&trigger.RateMonitorOpts{
		Interval:     c.rateInterval,
		OnRate:       func(r float64) { c.rateBits.Store(math.Float64bits(r)) },
		Logger:       c.base.Logger,
		TimerFactory: c.base.TimerFactory,
	})
	if err := rate.Start(); err != nil {
		c.log.Warning("Rate monitor unavailable: %v", err)
		rate = nil
	}
	c.rate.Store(rate)
	c.triggers.Store(0)
	if err := sess.Trigger.Start(); err != nil {
		c.stopRate()
		c.finish(run, store.OutcomeFailed, 0)
		return nil, err
	}
	c.trigRun = run
	c.trigStopped = false
	done := sess.Trigger.Done()
	c.watchers.Add(1)
	go c.watchTrigger(sess, run, done)
	return run, nil
}

func (c *controller) stopRate() {
	if r := c.rate.Swap(nil); r != nil {
		if err := r.Stop(); err != nil {
			c.log.Warning("Rate monitor: %v", err)
		}
	}
}

func (c *controller) watchTrigger(sess *session.Session, run *store.Run, done <-chan struct{}) {
	defer c.watchers.Done()
	<-done
	c.stopRate()
	err := sess.Trigger.Wait()

	c.mu.Lock()
	outcome := store.OutcomeFinished
	if c.trigStopped {
		outcome = store.OutcomeStopped
	}
	if err != nil {
		outcome = store.OutcomeFailed
	}
	if c.trigRun == run {
		c.trigRun = nil
	}
	c.mu.Unlock()

	c.finish(run, outcome, c.triggers.Load())
}

func (c *controller) stopTrigger() error {
	c.mu.Lock()
	sess, err := c.session()
	if err == nil {
		c.trigStopped = true
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return sess.Trigger.Stop()
}

func (c *controller) pauseTrigger(pause bool) error {
	c.mu.Lock()
	sess, err := c.session()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return sess.Trigger.Pause(pause)
}

func (c *controller) triggerStatus() (*common.TriggerStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, err := c.session()
	if err != nil {
		return nil, err
	}
	st := &common.TriggerStatus{
		Profile:  sess.Profile.Name,
		State:    sess.Trigger.State().String(),
		NextID:   sess.Trigger.TriggerID(),
		PeriodMs: float64(sess.Trigger.Period()) / float64(time.Millisecond),
		Mode:     sess.Trigger.Mode().String(),
		Rate:     math.Float64frombits(c.rateBits.Load()),
	}
	if c.trigRun != nil {
		st.RunID = c.trigRun.ID
	}
	return st, nil
}

// fire runs a scheduled event. It is called on the scheduler goroutine
// and hands the work off so the heap keeps moving.
func (c *controller) fire(ev scheduler.ScheduleEvent) {
	c.watchers.Add(1)
	go func() {
		defer c.watchers.Done()
		c.runScheduled(context.Background(), ev)
	}()
}

func (c *controller) runScheduled(ctx context.Context, ev scheduler.ScheduleEvent) {
	var err error
	switch ev.Action {
	case scheduler.ActionPlay:
		_, err = c.startPlayer(ctx, ev.Profile, 0)
	case scheduler.ActionTrigger:
		_, err = c.startTrigger(ctx, ev.Profile)
	default:
		err = fmt.Errorf("unknown action %q", ev.Action)
	}

	state := store.ScheduleStateFired
	if err != nil {
		state = store.ScheduleStateMissed
		c.log.Warning("Scheduled %s of %q did not start: %v", ev.Action, ev.Profile, err)
	} else {
		c.log.Info("Scheduled %s of %q started.", ev.Action, ev.Profile)
	}
	at := ev.TriggerAt
	if ev.CronExpr != "" {
		if next, nerr := scheduler.NextOccurrence(ev.CronExpr, time.Now()); nerr == nil {
			at = next
			state = store.ScheduleStateScheduled
		}
	}
	if uerr := c.store.UpdateSchedule(ctx, ev.ID, at, state); uerr != nil {
		c.log.Warning("Unable to update schedule %s: %v", ev.ID, uerr)
	}
}

// close stops any run, releases the outputs and waits for the watchers.
func (c *controller) close() error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.playStopped = true
	c.trigStopped = true
	c.mu.Unlock()
	var err error
	if sess != nil {
		err = sess.Close()
	}
	c.watchers.Wait()
	return err
}

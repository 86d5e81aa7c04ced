package trigger

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/runctl"
	"github.com/portplayer/portplayer/pkg/timerfd"
)

// DefaultRateInterval is the RateMonitor reporting period.
const DefaultRateInterval = 2 * time.Second

// RateMonitorOpts configures a RateMonitor.
type RateMonitorOpts struct {
	Interval time.Duration
	// OnRate receives the event rate in events per second after every
	// interval, and 0 when the monitor stops.
	OnRate       func(perSecond float64)
	Logger       logger.Logger
	TimerFactory timerfd.Factory
}

// RateMonitor measures how many events per second are counted with
// Increment. Register Increment with Manager.OnTrigger to observe the
// effective trigger rate.
type RateMonitor struct {
	interval time.Duration
	onRate   func(float64)
	log      logger.Logger
	newTimer timerfd.Factory
	count    atomic.Uint64
	ctl      *runctl.Controller
}

// NewRateMonitor returns a stopped monitor.
func NewRateMonitor(opts *RateMonitorOpts) *RateMonitor {
	if opts == nil {
		opts = &RateMonitorOpts{}
	}
	r := &RateMonitor{
		interval: opts.Interval,
		onRate:   opts.OnRate,
		log:      logger.Prefixed(opts.Logger, "rate"),
		newTimer: opts.TimerFactory,
		ctl:      runctl.New(),
	}
	if r.interval <= 0 {
		r.interval = DefaultRateInterval
	}
	if r.onRate == nil {
		r.onRate = func(float64) {}
	}
	if r.newTimer == nil {
		r.newTimer = timerfd.DefaultFactory
	}
	return r
}

// Increment counts one event. It is safe for concurrent use.
func (r *RateMonitor) Increment() {
	r.count.Add(1)
}

// Count returns the number of events counted so far.
func (r *RateMonitor) Count() uint64 {
	return r.count.Load()
}

// Start starts reporting.
func (r *RateMonitor) Start() error {
	ready := make(chan error, 1)
	if err := r.ctl.Start(func() error { return r.run(ready) }); err != nil {
		return err
	}
	return r.ctl.WaitReady(ready)
}

// Stop stops reporting and waits for the worker.
func (r *RateMonitor) Stop() error {
	return r.ctl.Stop()
}

func (r *RateMonitor) run(ready chan<- error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	timer := r.newTimer(timerfd.Spec{Interval: r.interval})
	if err := timer.Start(); err != nil {
		ready <- err
		return err
	}
	ready <- nil

	prev := r.count.Load()
	for !r.ctl.Aborting() {
		n, err := timer.Wait()
		if err != nil {
			r.log.Warning("Rate timer read failed: %v", err)
			time.Sleep(r.interval)
			continue
		}
		if n > 1 {
			r.log.Warning("Timer missed %d events.", n-1)
		}
		cur := r.count.Load()
		window := r.interval * time.Duration(n)
		r.onRate(float64(cur-prev) / window.Seconds())
		prev = cur
	}
	r.onRate(0)
	return timer.Stop()
}

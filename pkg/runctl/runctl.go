// Package runctl implements the start/pause/resume/stop handshake shared by
// the playlist player and the trigger manager.
//
// A Controller owns one worker goroutine at a time. The states are
//
//	Stopped -> Running <-> Paused
//	Running/Paused -> Aborting -> Stopped
//
// All flags live behind a single mutex. The worker never holds that mutex
// while it blocks on its timer, so Pause and Stop from other goroutines are
// never held up by a pending read. A paused worker sleeps on a condition
// variable until Pause(false) or Stop wakes it.
//
// Stop joins the worker and therefore must not be called from the worker
// goroutine or from a callback it runs; such code calls Abort instead.
package runctl

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/portplayer/portplayer/pkg/timerfd"
)

var (
	// ErrAlreadyRunning is returned by Start when a worker is active.
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotRunning is returned by Pause when no worker is active.
	ErrNotRunning = errors.New("not running")
)

// SynchronizationError reports that the worker can no longer trust the
// controller's state. The worker exits instead of retrying.
type SynchronizationError struct {
	Op  string
	Err error
}

func (e *SynchronizationError) Error() string {
	return fmt.Sprintf("synchronization failure during %s: %v", e.Op, e.Err)
}

func (e *SynchronizationError) Unwrap() error {
	return e.Err
}

// State is the externally visible lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	Paused
	Aborting
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Aborting:
		return "aborting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Controller coordinates one worker goroutine.
type Controller struct {
	mu      sync.Mutex
	cond    *sync.Cond
	running bool
	abort   bool
	pause   bool
	done    chan struct{}
	err     error
}

// New returns a stopped controller.
func New() *Controller {
	c := &Controller{}
	c.cond = sync.NewCond(&c.mu)
	closed := make(chan struct{})
	close(closed)
	c.done = closed
	return c
}

// Start spawns worker and moves to Running. It fails with
// ErrAlreadyRunning unless the controller is Stopped. The error returned
// by worker is kept and reported by Err and Stop.
func (c *Controller) Start(worker func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	c.abort = false
	c.pause = false
	c.err = nil
	c.running = true
	c.done = make(chan struct{})
	go c.run(worker, c.done)
	return nil
}

func (c *Controller) run(worker func() error, done chan struct{}) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &SynchronizationError{Op: "worker", Err: fmt.Errorf("panic: %v", r)}
		}
		c.mu.Lock()
		c.running = false
		c.abort = false
		c.pause = false
		c.err = err
		c.mu.Unlock()
		close(done)
	}()
	err = worker()
}

// Pause suspends (true) or resumes (false) the worker. Repeating the
// current setting is a no-op. Resuming wakes the single waiting worker.
func (c *Controller) Pause(pause bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	if c.pause == pause {
		return nil
	}
	c.pause = pause
	if !pause {
		c.cond.Signal()
	}
	return nil
}

// Stop resumes a paused worker, raises the abort flag and waits for the
// worker to return. Stopping a stopped controller is a no-op. The returned
// error is the worker's own error, if any.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	if c.pause {
		c.pause = false
		c.cond.Signal()
	}
	c.abort = true
	done := c.done
	c.mu.Unlock()

	<-done
	return c.Err()
}

// errNotReady is returned by WaitReady when the worker returned without
// reporting readiness or an error.
var errNotReady = errors.New("worker exited before it was ready")

// WaitReady waits for the worker started last to report on ready. A
// worker that exits first, a panicking one included, ends the wait with
// its error. An error received on ready is returned after the worker has
// been joined.
func (c *Controller) WaitReady(ready <-chan error) error {
	done := c.Done()
	select {
	case err := <-ready:
		if err != nil {
			<-done
		}
		return err
	case <-done:
	}
	select {
	case err := <-ready:
		return err
	default:
	}
	if err := c.Err(); err != nil {
		return err
	}
	return errNotReady
}

// Wait blocks until the current worker, if any, has returned.
func (c *Controller) Wait() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	<-done
	return c.Err()
}

// Done returns a channel closed when the current worker returns.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error reported by the last worker.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Abort raises the abort flag without waiting. Workers use it for a
// natural end; hooks running on the worker goroutine use it instead of Stop.
func (c *Controller) Abort() {
	c.mu.Lock()
	if c.running {
		c.abort = true
	}
	c.mu.Unlock()
}

// Aborting reports whether the worker should leave its loop.
func (c *Controller) Aborting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abort
}

// IsRunning reports whether a worker is active (including paused or aborting).
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// IsPaused reports whether a pause has been requested.
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pause
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.running:
		return Stopped
	case c.abort:
		return Aborting
	case c.pause:
		return Paused
	}
	return Running
}

// WaitWhilePaused is called by the worker once per loop iteration. It
// blocks on the condition variable for as long as the controller is paused
// and returns the time spent blocked, measured with sw, so the worker can
// exclude it from its running-time bookkeeping.
func (c *Controller) WaitWhilePaused(sw timerfd.Stopwatch) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return 0, &SynchronizationError{Op: "pause", Err: errors.New("worker outlived its controller")}
	}
	var held time.Duration
	for c.pause && !c.abort {
		before := sw.Elapsed()
		c.cond.Wait()
		held += sw.Elapsed() - before
		if !c.running {
			return held, &SynchronizationError{Op: "pause", Err: errors.New("controller stopped while worker was waiting")}
		}
	}
	return held, nil
}

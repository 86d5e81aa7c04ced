package runctl

import (
	"errors"
	"testing"
	"time"

	"github.com/portplayer/portplayer/pkg/timerfd"
)

// spin is a worker that loops until aborted, honouring pauses.
func spin(c *Controller, sw timerfd.Stopwatch, held chan<- time.Duration) func() error {
	return func() error {
		for !c.Aborting() {
			d, err := c.WaitWhilePaused(sw)
			if err != nil {
				return err
			}
			if d > 0 && held != nil {
				held <- d
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	}
}

func TestNewIsStopped(t *testing.T) {
	c := New()
	if c.State() != Stopped {
		t.Fatalf("state = %v, want stopped", c.State())
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop on stopped controller: %v", err)
	}
	if err := c.Wait(); err != nil {
		t.Fatalf("Wait on stopped controller: %v", err)
	}
	if err := c.Pause(true); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Pause on stopped controller = %v, want ErrNotRunning", err)
	}
}

func TestStartTwice(t *testing.T) {
	c := New()
	sw := timerfd.NewManualStopwatch()
	if err := c.Start(spin(c, sw, nil)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()
	if err := c.Start(spin(c, sw, nil)); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if c.State() != Running {
		t.Fatalf("state = %v, want running", c.State())
	}
}

func TestStopIdempotent(t *testing.T) {
	c := New()
	sw := timerfd.NewManualStopwatch()
	if err := c.Start(spin(c, sw, nil)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
		if c.IsRunning() {
			t.Fatalf("still running after Stop #%d", i)
		}
	}
}

func TestStopWhilePaused(t *testing.T) {
	c := New()
	sw := timerfd.NewManualStopwatch()
	if err := c.Start(spin(c, sw, nil)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Pause(true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if c.State() != Paused {
		t.Fatalf("state = %v, want paused", c.State())
	}
	time.Sleep(5 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not join a paused worker")
	}
	if c.State() != Stopped {
		t.Fatalf("state = %v, want stopped", c.State())
	}
}

func TestPauseReportsHeldTime(t *testing.T) {
	c := New()
	sw := timerfd.NewManualStopwatch()
	held := make(chan time.Duration, 1)
	if err := c.Start(spin(c, sw, held)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Pause(true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// Repeated pause is a no-op.
	if err := c.Pause(true); err != nil {
		t.Fatalf("Pause again: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	sw.Advance(250 * time.Millisecond)
	if err := c.Pause(false); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	select {
	case d := <-held:
		if d != 250*time.Millisecond {
			t.Fatalf("held = %v, want 250ms", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not resume")
	}
}

func TestWorkerErrorSurfacedByStop(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	release := make(chan struct{})
	if err := c.Start(func() error {
		<-release
		return boom
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	close(release)
	if err := c.Stop(); err != nil && !errors.Is(err, boom) {
		t.Fatalf("Stop = %v", err)
	}
	if err := c.Err(); !errors.Is(err, boom) {
		t.Fatalf("Err = %v, want boom", err)
	}
}

func TestWorkerPanicBecomesSynchronizationError(t *testing.T) {
	c := New()
	if err := c.Start(func() error { panic("lost") }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := c.Wait()
	var se *SynchronizationError
	if !errors.As(err, &se) {
		t.Fatalf("Wait = %v, want *SynchronizationError", err)
	}
}

func TestAbortFromWorker(t *testing.T) {
	c := New()
	if err := c.Start(func() error {
		c.Abort()
		if !c.Aborting() {
			return errors.New("abort flag not raised")
		}
		return nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish")
	}
	if err := c.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
	// A fresh run starts clean.
	if err := c.Start(func() error { return nil }); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := c.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWaitWhilePausedOutsideRun(t *testing.T) {
	c := New()
	_, err := c.WaitWhilePaused(timerfd.NewManualStopwatch())
	var se *SynchronizationError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SynchronizationError", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Stopped, "stopped"},
		{Running, "running"},
		{Paused, "paused"},
		{Aborting, "aborting"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}

func TestWaitReady(t *testing.T) {
	boom := errors.New("no timer")
	tests := []struct {
		name    string
		worker  func(ready chan<- error) error
		wantErr error
		wantSE  bool
	}{
		{"ready", func(ready chan<- error) error { ready <- nil; return nil }, nil, false},
		{"start error", func(ready chan<- error) error { ready <- boom; return boom }, boom, false},
		{"panic before ready", func(chan<- error) error { panic("lost") }, nil, true},
		{"return before ready", func(chan<- error) error { return boom }, boom, false},
		{"silent return", func(chan<- error) error { return nil }, errNotReady, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			ready := make(chan error, 1)
			if err := c.Start(func() error { return tt.worker(ready) }); err != nil {
				t.Fatalf("Start: %v", err)
			}
			errc := make(chan error, 1)
			go func() { errc <- c.WaitReady(ready) }()
			var err error
			select {
			case err = <-errc:
			case <-time.After(2 * time.Second):
				t.Fatal("WaitReady still blocked")
			}
			if tt.wantSE {
				var se *SynchronizationError
				if !errors.As(err, &se) {
					t.Fatalf("WaitReady = %v, want *SynchronizationError", err)
				}
			} else if !errors.Is(err, tt.wantErr) {
				t.Fatalf("WaitReady = %v, want %v", err, tt.wantErr)
			}
			c.Wait()
			if c.IsRunning() {
				t.Fatal("still running")
			}
		})
	}
}

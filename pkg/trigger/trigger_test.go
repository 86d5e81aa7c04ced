package trigger

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/rt"
	"github.com/portplayer/portplayer/pkg/runctl"
	"github.com/portplayer/portplayer/pkg/timerfd"
)

// fakeTimer ticks every 200µs; missed reports the expiration count of
// the next Wait once.
type fakeTimer struct {
	startErr error
	missed   atomic.Uint64
}

func (f *fakeTimer) Start() error { return f.startErr }

func (f *fakeTimer) Wait() (uint64, error) {
	time.Sleep(200 * time.Microsecond)
	if n := f.missed.Swap(0); n > 0 {
		return n, nil
	}
	return 1, nil
}

func (f *fakeTimer) Stop() error { return nil }

func factoryFor(f *fakeTimer) timerfd.Factory {
	return func(timerfd.Spec) timerfd.Periodic { return f }
}

type idRecorder struct {
	mu  sync.Mutex
	ids []uint64
}

func (r *idRecorder) add(id uint64) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func (r *idRecorder) snapshot() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.ids...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func checkMonotonic(t *testing.T, ids []uint64) {
	t.Helper()
	for i, id := range ids {
		if id != uint64(i) {
			t.Fatalf("ids = %v: position %d holds %d", ids, i, id)
		}
	}
}

func TestTickModeMonotonicIDs(t *testing.T) {
	ft := &fakeTimer{}
	m := New(&Opts{TimerFactory: factoryFor(ft)})
	rec := &idRecorder{}
	m.OnTrigger(rec.add)
	var done atomic.Int32
	m.OnDone(func() { done.Add(1) })

	for run := 0; run < 2; run++ {
		if err := m.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		waitFor(t, "20 triggers", func() bool { return len(rec.snapshot()) >= 20 })
		if err := m.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		ids := rec.snapshot()
		checkMonotonic(t, ids)
		if got := m.TriggerID(); got != uint64(len(ids)) {
			t.Fatalf("TriggerID = %d, want %d", got, len(ids))
		}
		rec = &idRecorder{}
		m.onTrigger = nil
		m.OnTrigger(rec.add)
	}
	if done.Load() != 2 {
		t.Fatalf("done fired %d times, want 2", done.Load())
	}
}

func TestHookOrder(t *testing.T) {
	var mu sync.Mutex
	var events []string
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}
	m := New(&Opts{
		TimerFactory: factoryFor(&fakeTimer{}),
		PreTrigger:   func(uint64) error { record("pre"); return nil },
		PostTrigger:  func(uint64) error { record("post"); return nil },
	})
	m.OnTrigger(func(uint64) { record("notify") })
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "one trigger", func() bool { return m.TriggerID() >= 1 })
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) < 3 || events[0] != "pre" || events[1] != "notify" || events[2] != "post" {
		t.Fatalf("events = %v", events)
	}
}

func TestRefusedTriggerKeepsID(t *testing.T) {
	log := logger.NewMockLogger()
	var calls atomic.Int32
	m := New(&Opts{
		TimerFactory: factoryFor(&fakeTimer{}),
		Logger:       log,
		// refuse every other readiness check
		Ready: func(uint64) bool { return calls.Add(1)%2 == 0 },
	})
	rec := &idRecorder{}
	m.OnTrigger(rec.add)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "5 triggers", func() bool { return len(rec.snapshot()) >= 5 })
	m.Stop()
	checkMonotonic(t, rec.snapshot())
	refused := 0
	for _, w := range log.WarningCalls() {
		if strings.Contains(w, "REFUSED") {
			refused++
		}
	}
	if refused == 0 {
		t.Fatal("refusals not logged")
	}
}

func TestPreTriggerErrorSkipsTrigger(t *testing.T) {
	var attempts atomic.Int32
	m := New(&Opts{
		TimerFactory: factoryFor(&fakeTimer{}),
		PreTrigger: func(uint64) error {
			if attempts.Add(1) == 1 {
				return errors.New("camera busy")
			}
			return nil
		},
	})
	rec := &idRecorder{}
	m.OnTrigger(rec.add)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "3 triggers", func() bool { return len(rec.snapshot()) >= 3 })
	m.Stop()
	checkMonotonic(t, rec.snapshot())
}

func TestMissedTicksLogged(t *testing.T) {
	ft := &fakeTimer{}
	ft.missed.Store(4)
	log := logger.NewMockLogger()
	m := New(&Opts{TimerFactory: factoryFor(ft), Logger: log})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "a trigger", func() bool { return m.TriggerID() >= 2 })
	m.Stop()
	found := false
	for _, w := range log.WarningCalls() {
		if strings.Contains(w, "missed 3 events") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missed ticks not logged: %v", log.WarningCalls())
	}
}

func TestSettersRejectedWhileRunning(t *testing.T) {
	m := New(&Opts{TimerFactory: factoryFor(&fakeTimer{})})
	if m.Period() != DefaultPeriod {
		t.Fatalf("Period = %v, want %v", m.Period(), DefaultPeriod)
	}
	if err := m.SetPeriod(0); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("SetPeriod(0) = %v", err)
	}
	if err := m.SetPeriod(time.Millisecond); err != nil {
		t.Fatalf("SetPeriod: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()
	if err := m.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v", err)
	}
	checks := map[string]error{
		"period": m.SetPeriod(2 * time.Millisecond),
		"mode":   m.SetMode(ElapsedMode),
		"pre":    m.SetPreTriggerAction(nil),
		"post":   m.SetPostTriggerAction(nil),
		"ready":  m.SetReady(nil),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrRunning) {
			t.Errorf("%s setter = %v, want ErrRunning", name, err)
		}
	}
}

func TestStartTimerFailure(t *testing.T) {
	boom := errors.New("no timer")
	m := New(&Opts{TimerFactory: factoryFor(&fakeTimer{startErr: boom})})
	if err := m.Start(); !errors.Is(err, boom) {
		t.Fatalf("Start = %v, want %v", err, boom)
	}
	if m.IsRunning() {
		t.Fatal("running after failed start")
	}
}

func TestResumeDoesNotReportPausedTicks(t *testing.T) {
	ft := &fakeTimer{}
	log := logger.NewMockLogger()
	m := New(&Opts{TimerFactory: factoryFor(ft), Logger: log})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if err := m.Pause(true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// let a read in flight finish before queuing the backlog
	time.Sleep(20 * time.Millisecond)
	ft.missed.Store(40)
	before := m.TriggerID()
	if err := m.Pause(false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitFor(t, "triggers after resume", func() bool { return m.TriggerID() > before+2 })
	for _, w := range log.WarningCalls() {
		if strings.Contains(w, "missed") {
			t.Fatalf("paused time reported as missed ticks: %q", w)
		}
	}

	ft.missed.Store(4)
	waitFor(t, "missed ticks warning", func() bool {
		for _, w := range log.WarningCalls() {
			if strings.Contains(w, "missed 3 events") {
				return true
			}
		}
		return false
	})
}

// startReturns runs start and fails when it does not return in time.
func startReturns(t *testing.T, start func() error) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- start() }()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Start still blocked after the worker exited")
		return nil
	}
}

func TestStartWorkerPanic(t *testing.T) {
	panicking := rt.PromoterFunc(func() error { panic("boom") })
	tests := []struct {
		name string
		opts *Opts
	}{
		{"tick mode", &Opts{Mode: TickMode, Promoter: panicking, TimerFactory: factoryFor(&fakeTimer{})}},
		{"elapsed mode", &Opts{Mode: ElapsedMode, Promoter: panicking}},
		{"nil timer", &Opts{TimerFactory: func(timerfd.Spec) timerfd.Periodic { return nil }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.opts)
			err := startReturns(t, m.Start)
			var se *runctl.SynchronizationError
			if !errors.As(err, &se) {
				t.Fatalf("Start = %v, want *runctl.SynchronizationError", err)
			}
			if m.IsRunning() {
				t.Fatal("running after failed start")
			}
		})
	}
}

func TestRateMonitorStartWorkerPanic(t *testing.T) {
	r := NewRateMonitor(&RateMonitorOpts{
		TimerFactory: func(timerfd.Spec) timerfd.Periodic { return nil },
	})
	err := startReturns(t, r.Start)
	var se *runctl.SynchronizationError
	if !errors.As(err, &se) {
		t.Fatalf("Start = %v, want *runctl.SynchronizationError", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop after failed start: %v", err)
	}
}

func TestElapsedModeNoBacklogAfterPause(t *testing.T) {
	clock := timerfd.NewManualStopwatch()
	m := New(&Opts{
		Mode:   ElapsedMode,
		Period: 10 * time.Millisecond,
		Clock:  clock,
	})
	rec := &idRecorder{}
	m.OnTrigger(rec.add)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	time.Sleep(5 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("%d triggers before the first period", n)
	}
	clock.Advance(11 * time.Millisecond)
	waitFor(t, "first trigger", func() bool { return len(rec.snapshot()) == 1 })

	if err := m.Pause(true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	clock.Advance(time.Second)
	if err := m.Pause(false); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if n := len(rec.snapshot()); n != 1 {
		t.Fatalf("%d triggers after a paused second, want 1", n)
	}

	clock.Advance(11 * time.Millisecond)
	waitFor(t, "second trigger", func() bool { return len(rec.snapshot()) == 2 })
	checkMonotonic(t, rec.snapshot())
}

func TestPauseStopsTicks(t *testing.T) {
	m := New(&Opts{TimerFactory: factoryFor(&fakeTimer{})})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "a trigger", func() bool { return m.TriggerID() >= 1 })
	if err := m.Pause(true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	before := m.TriggerID()
	time.Sleep(10 * time.Millisecond)
	if after := m.TriggerID(); after != before {
		t.Fatalf("triggers while paused: %d -> %d", before, after)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop while paused: %v", err)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"tick", TickMode, false},
		{"", TickMode, false},
		{"Elapsed", ElapsedMode, false},
		{"busy", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRateMonitor(t *testing.T) {
	var mu sync.Mutex
	var rates []float64
	r := NewRateMonitor(&RateMonitorOpts{
		Interval:     time.Second,
		TimerFactory: factoryFor(&fakeTimer{}),
		OnRate: func(v float64) {
			mu.Lock()
			rates = append(rates, v)
			mu.Unlock()
		},
	})
	for i := 0; i < 30; i++ {
		r.Increment()
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first report", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(rates) > 0
	})
	for i := 0; i < 10; i++ {
		r.Increment()
	}
	waitFor(t, "rate of the new events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		var sum float64
		for _, v := range rates {
			sum += v
		}
		return sum == 10
	})
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.Count() != 40 {
		t.Fatalf("Count = %d, want 40", r.Count())
	}
	mu.Lock()
	defer mu.Unlock()
	// counts before Start are not part of the first window
	if rates[0] != 0 {
		t.Fatalf("first rate = %v, want 0", rates[0])
	}
	if last := rates[len(rates)-1]; last != 0 {
		t.Fatalf("final rate = %v, want 0", last)
	}
}

package timerfd

import (
	"sync"
	"time"
)

// Stopwatch measures elapsed monotonic time since Start.
type Stopwatch interface {
	Start()
	Elapsed() time.Duration
}

// MonotonicStopwatch reads the runtime's monotonic clock.
type MonotonicStopwatch struct {
	start time.Time
}

// NewStopwatch returns a Stopwatch backed by time.Now's monotonic reading.
func NewStopwatch() Stopwatch {
	return &MonotonicStopwatch{}
}

func (s *MonotonicStopwatch) Start() {
	s.start = time.Now()
}

func (s *MonotonicStopwatch) Elapsed() time.Duration {
	return time.Since(s.start)
}

// ManualStopwatch is a Stopwatch whose time only moves when Advance is
// called. Tests use it to drive the workers deterministically.
type ManualStopwatch struct {
	mu      sync.Mutex
	elapsed time.Duration
}

// NewManualStopwatch returns a stopwatch frozen at zero.
func NewManualStopwatch() *ManualStopwatch {
	return &ManualStopwatch{}
}

// Start is a no-op: a manual stopwatch keeps its current reading so tests
// can advance it before the worker starts.
func (s *ManualStopwatch) Start() {}

func (s *ManualStopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Advance moves the stopwatch forward by d.
func (s *ManualStopwatch) Advance(d time.Duration) {
	s.mu.Lock()
	s.elapsed += d
	s.mu.Unlock()
}

// Package logger provides the logging interface shared by the sequencer,
// the trigger emitter and the control daemon.
//
// Worker goroutines log from a realtime-sensitive loop, so every
// implementation must be safe for concurrent use and must not block on
// anything slower than a write to its backend.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger defines the logging surface used across all portplayer components.
type Logger interface {
	// Info logs an informational message (e.g., "Playlist started").
	Info(format string, args ...interface{})

	// Warning logs a recoverable problem (e.g., "Timer missed 3 ticks").
	Warning(format string, args ...interface{})

	// Error logs a failure that ended an operation.
	Error(format string, args ...interface{})

	// Debug logs a diagnostic message. Backends may drop it.
	Debug(format string, args ...interface{})

	// Close releases resources held by the logger. Safe to call multiple times.
	Close() error
}

// StandardLogger wraps the stdlib *log.Logger for console/file output.
type StandardLogger struct {
	logger *log.Logger
	debug  bool

	mu     sync.Mutex
	closer io.Closer
}

// NewStandardLogger creates a logger that wraps the given *log.Logger.
// Debug messages are discarded.
func NewStandardLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l}
}

// NewDebugLogger is like NewStandardLogger but keeps debug messages.
func NewDebugLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l, debug: true}
}

// OpenFile returns a logger appending to the file at path, creating it and
// its directory when missing. Close closes the file.
func OpenFile(path string, debug bool) (*StandardLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}
	return &StandardLogger{
		logger: log.New(f, "", log.LstdFlags),
		debug:  debug,
		closer: f,
	}, nil
}

// Info logs an informational message with [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...interface{}) {
	s.logger.Printf("[INFO] "+format, args...)
}

// Warning logs a warning message with [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...interface{}) {
	s.logger.Printf("[WARNING] "+format, args...)
}

// Error logs an error message with [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}

// Debug logs a message with [DEBUG] prefix when debug output is enabled.
func (s *StandardLogger) Debug(format string, args ...interface{}) {
	if !s.debug {
		return
	}
	s.logger.Printf("[DEBUG] "+format, args...)
}

// Close closes the file of a logger made by OpenFile. For other
// StandardLoggers it is a no-op.
func (s *StandardLogger) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// NopLogger is a logger that discards all messages.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Info(format string, args ...interface{})    {}
func (n *NopLogger) Warning(format string, args ...interface{}) {}
func (n *NopLogger) Error(format string, args ...interface{})   {}
func (n *NopLogger) Debug(format string, args ...interface{})   {}
func (n *NopLogger) Close() error                               { return nil }

// Prefixed returns a logger that prepends "<component>: " to every message.
func Prefixed(l Logger, component string) Logger {
	if l == nil {
		l = NewNopLogger()
	}
	return &prefixed{next: l, prefix: component + ": "}
}

type prefixed struct {
	next   Logger
	prefix string
}

func (p *prefixed) Info(format string, args ...interface{}) {
	p.next.Info(p.prefix+format, args...)
}

func (p *prefixed) Warning(format string, args ...interface{}) {
	p.next.Warning(p.prefix+format, args...)
}

func (p *prefixed) Error(format string, args ...interface{}) {
	p.next.Error(p.prefix+format, args...)
}

func (p *prefixed) Debug(format string, args ...interface{}) {
	p.next.Debug(p.prefix+format, args...)
}

func (p *prefixed) Close() error {
	return p.next.Close()
}

var (
	_ Logger = (*StandardLogger)(nil)
	_ Logger = (*NopLogger)(nil)
	_ Logger = (*prefixed)(nil)
)

// MockLogger records all log calls for verification in tests.
// Worker goroutines write to it concurrently, so reads go through the
// accessor methods.
type MockLogger struct {
	mu           sync.Mutex
	infoCalls    []string
	warningCalls []string
	errorCalls   []string
	debugCalls   []string
	closeCalled  bool
}

// NewMockLogger creates a new MockLogger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) record(dst *[]string, format string, args []interface{}) {
	m.mu.Lock()
	*dst = append(*dst, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

func (m *MockLogger) Info(format string, args ...interface{}) {
	m.record(&m.infoCalls, format, args)
}

func (m *MockLogger) Warning(format string, args ...interface{}) {
	m.record(&m.warningCalls, format, args)
}

func (m *MockLogger) Error(format string, args ...interface{}) {
	m.record(&m.errorCalls, format, args)
}

func (m *MockLogger) Debug(format string, args ...interface{}) {
	m.record(&m.debugCalls, format, args)
}

// Close records that Close was called.
func (m *MockLogger) Close() error {
	m.mu.Lock()
	m.closeCalled = true
	m.mu.Unlock()
	return nil
}

func (m *MockLogger) snapshot(src []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// InfoCalls returns a copy of the recorded info messages.
func (m *MockLogger) InfoCalls() []string { return m.snapshot(m.infoCalls) }

// WarningCalls returns a copy of the recorded warnings.
func (m *MockLogger) WarningCalls() []string { return m.snapshot(m.warningCalls) }

// ErrorCalls returns a copy of the recorded errors.
func (m *MockLogger) ErrorCalls() []string { return m.snapshot(m.errorCalls) }

// DebugCalls returns a copy of the recorded debug messages.
func (m *MockLogger) DebugCalls() []string { return m.snapshot(m.debugCalls) }

// CloseCalled reports whether Close was called.
func (m *MockLogger) CloseCalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalled
}

var _ Logger = (*MockLogger)(nil)

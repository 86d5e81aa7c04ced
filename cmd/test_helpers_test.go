package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/portplayer/portplayer/internal/session"
	"github.com/portplayer/portplayer/internal/store"
	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/pins"
	"github.com/portplayer/portplayer/pkg/rt"
)

// syncBuffer is a bytes.Buffer safe for the progress bar goroutine and the
// command writing at the same time.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// cmdEnv replaces the package hooks of the commands for one test.
type cmdEnv struct {
	dbPath  string
	out     *syncBuffer
	backend *pins.MemoryBackend
	signals chan chan<- os.Signal
}

func setupCmdTest(t *testing.T) *cmdEnv {
	t.Helper()
	env := &cmdEnv{
		dbPath:  filepath.Join(t.TempDir(), "test.db"),
		out:     &syncBuffer{},
		backend: pins.NewMemoryBackend(),
		signals: make(chan chan<- os.Signal, 4),
	}

	origStore, origOut, origOpts := openStore, stdout, sessionOptions
	origNotify, origStop, origDial := notifyControl, stopControl, dialDaemon
	t.Cleanup(func() {
		openStore, stdout, sessionOptions = origStore, origOut, origOpts
		notifyControl, stopControl, dialDaemon = origNotify, origStop, origDial
	})

	openStore = func() (*store.Store, error) { return store.Open(env.dbPath) }
	stdout = env.out
	sessionOptions = func(logger.Logger) *session.Options {
		return &session.Options{
			Logger:   logger.NewNopLogger(),
			Promoter: rt.NopPromoter{},
			Backend:  env.backend,
		}
	}
	notifyControl = func(c chan<- os.Signal) { env.signals <- c }
	stopControl = func(chan<- os.Signal) {}
	return env
}

// waitSignals returns the channel a running command subscribed for stop
// and pause signals.
func (e *cmdEnv) waitSignals(t *testing.T) chan<- os.Signal {
	t.Helper()
	select {
	case c := <-e.signals:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("command did not subscribe to signals")
		return nil
	}
}

func (e *cmdEnv) openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(e.dbPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func run(t *testing.T, args ...string) {
	t.Helper()
	if err := Execute(append([]string{"portplayer"}, args...), BuildArgs{Version: "test"}); err != nil {
		t.Fatalf("Execute %v: %v", args, err)
	}
}

// captureOutput captures os.Stdout while f runs. Runtime errors are
// printed there.
func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		io.Copy(&buf, r)
		close(done)
	}()
	f()
	w.Close()
	os.Stdout = old
	<-done
	r.Close()
	return buf.String()
}

// assertContains checks if output contains the expected substring.
func assertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// assertContainsAll checks that output contains all expected substrings.
func assertContainsAll(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, exp := range expected {
		assertContains(t, output, exp)
	}
}

// assertNotContains checks if output does NOT contain the specified substring.
func assertNotContains(t *testing.T, output, notExpected string) {
	t.Helper()
	if strings.Contains(output, notExpected) {
		t.Errorf("expected output to NOT contain %q, got:\n%s", notExpected, output)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package script

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/trigger"
)

func TestHooksFromScript(t *testing.T) {
	log := logger.NewMockLogger()
	e := New(afero.NewMemMapFs(), log)
	src := `
var seen = [];
function preTrigger(id) { seen.push(id); }
function ready(id) { return id % 2 === 0; }
function stateChanged(i) { log("state", i); }
`
	if err := e.Load("hooks.js", src); err != nil {
		t.Fatalf("Load: %v", err)
	}
	h := e.Hooks()
	if h.PreTrigger == nil || h.Ready == nil || h.StateChanged == nil {
		t.Fatalf("missing hooks: %+v", h)
	}
	if h.PostTrigger != nil {
		t.Fatal("postTrigger is not defined but a hook was returned")
	}
	if err := h.PreTrigger(7); err != nil {
		t.Fatalf("PreTrigger: %v", err)
	}
	if !h.Ready(4) || h.Ready(5) {
		t.Fatal("ready() result not honoured")
	}
	h.StateChanged(3)
	calls := log.InfoCalls()
	if len(calls) != 1 || !strings.Contains(calls[0], "state 3") {
		t.Fatalf("log calls = %v", calls)
	}
}

func TestHookErrorsSurface(t *testing.T) {
	log := logger.NewMockLogger()
	e := New(afero.NewMemMapFs(), log)
	src := `
function postTrigger(id) { throw new Error("camera " + id + " busy"); }
function ready(id) { throw new Error("no io"); }
`
	if err := e.Load("hooks.js", src); err != nil {
		t.Fatalf("Load: %v", err)
	}
	h := e.Hooks()
	err := h.PostTrigger(2)
	if err == nil || !strings.Contains(err.Error(), "camera 2 busy") {
		t.Fatalf("PostTrigger = %v", err)
	}
	if h.Ready(0) {
		t.Fatal("a throwing ready() must refuse")
	}
	if len(log.WarningCalls()) != 1 {
		t.Fatalf("warnings = %v", log.WarningCalls())
	}
}

func TestHookTimeout(t *testing.T) {
	e := New(afero.NewMemMapFs(), nil)
	e.SetTimeout(20 * time.Millisecond)
	if err := e.Load("loop.js", `function preTrigger(id) { for (;;) {} }`); err != nil {
		t.Fatalf("Load: %v", err)
	}
	err := e.Hooks().PreTrigger(0)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	// the runtime is usable again after an interrupt
	if err := e.Load("ok.js", `function postTrigger(id) {}`); err != nil {
		t.Fatalf("Load after timeout: %v", err)
	}
	if err := e.Hooks().PostTrigger(1); err != nil {
		t.Fatalf("PostTrigger: %v", err)
	}
}

func TestLateTimeoutDoesNotAbortNextCall(t *testing.T) {
	e := New(afero.NewMemMapFs(), nil)
	if err := e.Load("hooks.js", `
function preTrigger(id) { waitTimer(); }
function postTrigger(id) {}
`); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// The first timeout fires once the hook is running and interrupts
	// only after the hook has returned.
	started, interrupted := make(chan struct{}), make(chan struct{})
	e.vm.Set("waitTimer", func() { <-started })
	orig := afterFunc
	t.Cleanup(func() { afterFunc = orig })
	first := true
	afterFunc = func(d time.Duration, f func()) *time.Timer {
		if !first {
			return orig(d, f)
		}
		first = false
		return orig(0, func() {
			close(started)
			time.Sleep(20 * time.Millisecond)
			f()
			close(interrupted)
		})
	}

	h := e.Hooks()
	// On a slow machine the interrupt can still land inside preTrigger.
	if err := h.PreTrigger(0); err != nil && !errors.Is(err, ErrTimeout) {
		t.Fatalf("PreTrigger: %v", err)
	}
	<-interrupted
	if err := h.PostTrigger(0); err != nil {
		t.Fatalf("PostTrigger after a late timeout: %v", err)
	}
}

func TestLoadFileWithRequire(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/hooks/lib.js", []byte(`exports.limit = 3;`), 0o644); err != nil {
		t.Fatal(err)
	}
	main := `
var lib = require("./lib.js");
function ready(id) { return id < lib.limit; }
`
	if err := afero.WriteFile(fs, "/hooks/main.js", []byte(main), 0o644); err != nil {
		t.Fatal(err)
	}
	e := New(fs, nil)
	if err := e.LoadFile("/hooks/main.js"); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	h := e.Hooks()
	if !h.Ready(2) || h.Ready(3) {
		t.Fatal("required module value not used")
	}
}

func TestCompileError(t *testing.T) {
	e := New(afero.NewMemMapFs(), nil)
	if err := e.Load("bad.js", "function ("); err == nil {
		t.Fatal("expected a compile error")
	}
}

func TestApplyToTriggerManager(t *testing.T) {
	e := New(afero.NewMemMapFs(), nil)
	if err := e.Load("hooks.js", `function ready(id) { return false; }`); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := trigger.New(nil)
	if err := e.Hooks().Apply(m); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

// Package script runs user supplied JavaScript hooks for the trigger
// manager and the playlist player.
//
// A script may define any of
//
//	function preTrigger(id) {}
//	function postTrigger(id) {}
//	function ready(id) { return true }
//	function stateChanged(index) {}
//
// Missing functions leave the matching hook nil. Scripts can log through
// log() and warn(), and load helper modules with require().
package script

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/spf13/afero"

	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/trigger"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 100 * time.Millisecond

// ErrTimeout is returned when a hook runs longer than the engine timeout.
var ErrTimeout = errors.New("script hook timed out")

// Hooks are Go closures around the script functions. A nil field means
// the script does not define that function.
type Hooks struct {
	PreTrigger   func(id uint64) error
	PostTrigger  func(id uint64) error
	Ready        func(id uint64) bool
	StateChanged func(index int)
}

// Engine owns one JavaScript runtime. The runtime is not goroutine safe,
// so every call into it holds mu.
type Engine struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	fs      afero.Fs
	log     logger.Logger
	timeout time.Duration
}

// New returns an engine whose require() reads modules from fs.
func New(fs afero.Fs, l logger.Logger) *Engine {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	e := &Engine{
		vm:      goja.New(),
		fs:      fs,
		log:     logger.Prefixed(l, "script"),
		timeout: DefaultTimeout,
	}
	registry := require.NewRegistry(require.WithLoader(e.loadSource))
	registry.Enable(e.vm)
	e.vm.Set("log", e.print(e.log.Info))
	e.vm.Set("warn", e.print(e.log.Warning))
	return e
}

// SetTimeout changes the per-call time limit. Zero disables it.
func (e *Engine) SetTimeout(d time.Duration) {
	e.mu.Lock()
	e.timeout = d
	e.mu.Unlock()
}

func (e *Engine) loadSource(path string) ([]byte, error) {
	b, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return nil, require.ModuleFileDoesNotExistError
	}
	return b, nil
}

func (e *Engine) print(out func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, v := range call.Arguments {
			parts[i] = v.String()
		}
		out("%s", strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// Load runs src. name is used in stack traces and as the base for
// relative require() paths.
func (e *Engine) Load(name, src string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	prog, err := goja.Compile(name, src, true)
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}
	if _, err := e.guard(func() (goja.Value, error) { return e.vm.RunProgram(prog) }); err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	return nil
}

// LoadFile reads and runs the script at path.
func (e *Engine) LoadFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	src, err := afero.ReadFile(e.fs, abs)
	if err != nil {
		return err
	}
	return e.Load(abs, string(src))
}

// afterFunc arms the hook timeout. Tests replace it.
var afterFunc = time.AfterFunc

// guard runs fn with the timeout armed. Callers hold mu. A timeout that
// fires after fn returned is waited for before the interrupt is cleared,
// so it cannot abort the next call.
func (e *Engine) guard(fn func() (goja.Value, error)) (goja.Value, error) {
	if e.timeout > 0 {
		fired := make(chan struct{})
		t := afterFunc(e.timeout, func() {
			defer close(fired)
			e.vm.Interrupt(ErrTimeout)
		})
		defer func() {
			if !t.Stop() {
				<-fired
			}
			e.vm.ClearInterrupt()
		}()
	}
	v, err := fn()
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if cause, ok := ie.Value().(error); ok {
			return nil, cause
		}
	}
	return v, err
}

func (e *Engine) call(name string, arg interface{}) (goja.Value, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn, ok := goja.AssertFunction(e.vm.Get(name))
	if !ok {
		return nil, false, nil
	}
	v, err := e.guard(func() (goja.Value, error) {
		return fn(goja.Undefined(), e.vm.ToValue(arg))
	})
	return v, true, err
}

func (e *Engine) defines(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := goja.AssertFunction(e.vm.Get(name))
	return ok
}

// Hooks returns closures for the functions the loaded scripts define.
func (e *Engine) Hooks() *Hooks {
	h := &Hooks{}
	if e.defines("preTrigger") {
		h.PreTrigger = func(id uint64) error {
			_, _, err := e.call("preTrigger", id)
			return err
		}
	}
	if e.defines("postTrigger") {
		h.PostTrigger = func(id uint64) error {
			_, _, err := e.call("postTrigger", id)
			return err
		}
	}
	if e.defines("ready") {
		h.Ready = func(id uint64) bool {
			v, _, err := e.call("ready", id)
			if err != nil {
				e.log.Warning("ready(%d) failed: %v", id, err)
				return false
			}
			return v.ToBoolean()
		}
	}
	if e.defines("stateChanged") {
		h.StateChanged = func(index int) {
			if _, _, err := e.call("stateChanged", index); err != nil {
				e.log.Warning("stateChanged(%d) failed: %v", index, err)
			}
		}
	}
	return h
}

// Apply installs the trigger hooks the script defines on m. m must be
// stopped.
func (h *Hooks) Apply(m *trigger.Manager) error {
	if h.PreTrigger != nil {
		if err := m.SetPreTriggerAction(h.PreTrigger); err != nil {
			return err
		}
	}
	if h.PostTrigger != nil {
		if err := m.SetPostTriggerAction(h.PostTrigger); err != nil {
			return err
		}
	}
	if h.Ready != nil {
		if err := m.SetReady(h.Ready); err != nil {
			return err
		}
	}
	return nil
}

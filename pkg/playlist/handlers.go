package playlist

import "time"

type (
	// PlaylistTimeHandlerFunc receives the running time since the playlist
	// (re)started. It is called once per timer tick.
	PlaylistTimeHandlerFunc func(elapsed time.Duration)
	// StateTimeHandlerFunc receives the running time spent in the current
	// state. It is called once per timer tick.
	StateTimeHandlerFunc func(elapsed time.Duration)
	// StateChangedHandlerFunc is called once per transition with the index
	// of the state that was entered.
	StateChangedHandlerFunc func(index int)
	// DoneHandlerFunc is called once when the worker leaves its loop,
	// whether the playlist ended or Stop was called.
	DoneHandlerFunc func()
	// ErrorHandlerFunc receives errors that do not stop the player, such as
	// a sink that failed to apply a state.
	ErrorHandlerFunc func(err error)
)

// Handlers are invoked on the worker goroutine. They must return quickly:
// a slow handler delays the next tick.
type Handlers struct {
	PlaylistTimeHandler PlaylistTimeHandlerFunc
	StateTimeHandler    StateTimeHandlerFunc
	StateChangedHandler StateChangedHandlerFunc
	DoneHandler         DoneHandlerFunc
	ErrorHandler        ErrorHandlerFunc
}

func (h *Handlers) setDefault() {
	if h.PlaylistTimeHandler == nil {
		h.PlaylistTimeHandler = func(time.Duration) {}
	}
	if h.StateTimeHandler == nil {
		h.StateTimeHandler = func(time.Duration) {}
	}
	if h.StateChangedHandler == nil {
		h.StateChangedHandler = func(int) {}
	}
	if h.DoneHandler == nil {
		h.DoneHandler = func() {}
	}
	if h.ErrorHandler == nil {
		h.ErrorHandler = func(error) {}
	}
}

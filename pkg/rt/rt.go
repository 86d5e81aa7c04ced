// Package rt promotes worker threads to a realtime scheduling class.
//
// Promotion is best effort. A worker that cannot be promoted keeps running
// at normal priority with more jitter; nothing else changes. Callers lock
// the worker goroutine to its OS thread before promoting so the priority
// sticks to the thread that runs the loop.
package rt

import (
	"errors"

	"github.com/portplayer/portplayer/pkg/logger"
)

// ErrPromotion wraps every promotion failure. It is never fatal.
var ErrPromotion = errors.New("realtime promotion failed")

// DefaultPriority is the realtime priority requested for worker threads.
const DefaultPriority = 10

// Promoter raises the calling thread's scheduling priority.
type Promoter interface {
	Promote() error
}

// NopPromoter leaves the thread at normal priority.
type NopPromoter struct{}

func (NopPromoter) Promote() error { return nil }

// PromoterFunc adapts a function to Promoter.
type PromoterFunc func() error

func (f PromoterFunc) Promote() error { return f() }

// PromoteOrWarn runs p on the calling thread and logs the outcome. who names
// the worker in log lines ("playlist", "trigger manager").
func PromoteOrWarn(p Promoter, l logger.Logger, who string) {
	if p == nil {
		return
	}
	if _, ok := p.(NopPromoter); ok {
		return
	}
	l.Info("Promoting %s to RT priority.", who)
	if err := p.Promote(); err != nil {
		l.Warning("Unable to promote %s to RT priority: %v", who, err)
		return
	}
	l.Info("Realtime successfully granted to %s.", who)
}

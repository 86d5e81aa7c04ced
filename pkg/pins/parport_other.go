//go:build !linux

package pins

import "errors"

// ErrUnsupported is returned when the platform has no ppdev driver.
var ErrUnsupported = errors.New("parallel port access requires linux ppdev")

// ParallelPortBackend is unavailable on this platform.
type ParallelPortBackend struct {
	Device string
}

// NewParallelPortBackend returns a backend whose Open always fails.
func NewParallelPortBackend(device string) *ParallelPortBackend {
	return &ParallelPortBackend{Device: device}
}

func (b *ParallelPortBackend) Open(Spec) (Pin, error) { return nil, ErrUnsupported }

func (b *ParallelPortBackend) Close() error { return nil }

//go:build !linux

package rt

import "github.com/portplayer/portplayer/pkg/logger"

// Platform returns the promoter used by default on this platform. Without
// RealtimeKit there is nothing to ask, so workers run at normal priority.
func Platform(l logger.Logger) Promoter {
	return NopPromoter{}
}

//go:build linux

package rt

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-multierror"
	"github.com/portplayer/portplayer/pkg/logger"
	"golang.org/x/sys/unix"
)

const (
	rtkitService = "org.freedesktop.RealtimeKit1"
	rtkitPath    = dbus.ObjectPath("/org/freedesktop/RealtimeKit1")
	rtkitMethod  = "org.freedesktop.RealtimeKit1.MakeThreadRealtime"
)

// rtkit refuses threads without an RLIMIT_RTTIME; values are microseconds.
const (
	rttimeSoft = 1_000_000
	rttimeHard = 2_000_000
)

var (
	setrlimit     = unix.Setrlimit
	gettid        = unix.Gettid
	connectSystem = func() (busCaller, error) {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			return nil, err
		}
		return &systemBus{conn: conn}, nil
	}
)

// busCaller is the part of a D-Bus connection the promoter needs.
type busCaller interface {
	MakeThreadRealtime(tid uint64, priority uint32) error
	Close() error
}

type systemBus struct {
	conn *dbus.Conn
}

func (b *systemBus) MakeThreadRealtime(tid uint64, priority uint32) error {
	obj := b.conn.Object(rtkitService, rtkitPath)
	return obj.Call(rtkitMethod, 0, tid, priority).Err
}

func (b *systemBus) Close() error {
	return b.conn.Close()
}

// RtkitPromoter asks RealtimeKit over the system bus to make the calling
// thread realtime.
type RtkitPromoter struct {
	Priority uint32
	log      logger.Logger
}

// NewRtkitPromoter returns a promoter requesting DefaultPriority.
func NewRtkitPromoter(l logger.Logger) *RtkitPromoter {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &RtkitPromoter{Priority: DefaultPriority, log: l}
}

// Promote sets RLIMIT_RTTIME and then calls MakeThreadRealtime for the
// current thread. Each failing step is logged; the joined error is
// returned wrapped in ErrPromotion.
func (p *RtkitPromoter) Promote() error {
	var result *multierror.Error

	lim := &unix.Rlimit{Cur: rttimeSoft, Max: rttimeHard}
	if err := setrlimit(unix.RLIMIT_RTTIME, lim); err != nil {
		p.log.Warning("Unable to set RLIMIT_RTTIME: %v", err)
		result = multierror.Append(result, fmt.Errorf("setrlimit: %w", err))
	}

	bus, err := connectSystem()
	if err != nil {
		p.log.Warning("Unable to connect to dbus: %v", err)
		result = multierror.Append(result, fmt.Errorf("dbus: %w", err))
		return fmt.Errorf("%w: %w", ErrPromotion, result.ErrorOrNil())
	}
	defer bus.Close()

	tid := gettid()
	if err := bus.MakeThreadRealtime(uint64(tid), p.Priority); err != nil {
		p.log.Warning("Unable to ask rtkit for realtime (thread %d): %v", tid, err)
		result = multierror.Append(result, fmt.Errorf("rtkit: %w", err))
	}
	if result.ErrorOrNil() != nil {
		return fmt.Errorf("%w: %w", ErrPromotion, result.ErrorOrNil())
	}
	return nil
}

// Platform returns the promoter used by default on this platform.
func Platform(l logger.Logger) Promoter {
	return NewRtkitPromoter(l)
}

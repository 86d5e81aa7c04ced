// Package server runs the portplayer daemon: one loaded profile driven
// through JSON-RPC 2.0 on a Unix socket and, when a token is configured, on
// a bearer-protected WebSocket endpoint on localhost.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"

	"github.com/portplayer/portplayer/internal/scheduler"
	"github.com/portplayer/portplayer/internal/session"
	"github.com/portplayer/portplayer/internal/store"
	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/trigger"
)

// WSPath is the WebSocket endpoint.
const WSPath = "/jsonrpc/ws"

// Config configures a Server.
type Config struct {
	// SocketPath is the Unix socket clients connect to.
	SocketPath string
	// HTTPAddr is the WebSocket listen address. Empty disables it.
	HTTPAddr string
	// Secret is the bearer token of the WebSocket endpoint.
	Secret string

	Version   string
	Commit    string
	BuildType string

	// Session is the base configuration of every loaded profile.
	Session session.Options
	// RateInterval is the trigger rate reporting period.
	RateInterval time.Duration
}

// Server owns the listeners, the scheduler and the loaded session.
type Server struct {
	cfg      *Config
	log      logger.Logger
	store    *store.Store
	notifier *Notifier
	ctl      *controller
	methods  handler.Map
	sched    *scheduler.Scheduler
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
	conns    sync.WaitGroup
	closed   bool
}

// NewServer returns a server that serves profiles from st.
func NewServer(cfg *Config, st *store.Store, l logger.Logger) *Server {
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = trigger.DefaultRateInterval
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = l
	}
	n := NewNotifier(l)
	s := &Server{
		cfg:      cfg,
		log:      logger.Prefixed(l, "server"),
		store:    st,
		notifier: n,
		ctl:      newController(st, n, l, cfg.Session, cfg.RateInterval),
		now:      time.Now,
	}
	s.methods = s.rpcMethods()
	return s
}

// Start listens on the socket and blocks until ctx is canceled or
// Shutdown is called. Stored schedules are loaded before the first
// connection is accepted.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.notifier.Run(s.ctx)

	s.sched = scheduler.New(s.ctx, s.ctl.fire)
	if err := s.restoreSchedules(s.ctx); err != nil {
		s.log.Warning("Unable to restore schedules: %v", err)
	}

	l, err := s.createListener()
	if err != nil {
		s.cancel()
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	if s.cfg.HTTPAddr != "" {
		if err := s.startHTTP(); err != nil {
			s.log.Warning("WebSocket endpoint disabled: %v", err)
		}
	}

	go func() {
		<-s.ctx.Done()
		s.Shutdown()
	}()

	s.log.Info("Listening on %s.", s.cfg.SocketPath)
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("Error accepting: %v", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serve(channel.Line(conn, conn))
		}()
	}
}

func (s *Server) createListener() (net.Listener, error) {
	_ = os.Remove(s.cfg.SocketPath)
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.cfg.SocketPath, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("error listening on %s: %w", s.cfg.SocketPath, err)
	}
	_ = os.Chmod(s.cfg.SocketPath, 0700)
	return l, nil
}

func (s *Server) startHTTP() error {
	if s.cfg.Secret == "" {
		return errors.New("no token configured")
	}
	l, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.handler(), ReadHeaderTimeout: 5 * time.Second}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()
	s.log.Info("WebSocket endpoint on ws://%s%s.", l.Addr(), WSPath)
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("WebSocket endpoint: %v", err)
		}
	}()
	return nil
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(WSPath, requireToken(s.cfg.Secret, http.HandlerFunc(s.handleWS)))
	return mux
}

// serve runs one jrpc2 server on ch until the peer goes away.
func (s *Server) serve(ch channel.Channel) {
	srv := jrpc2.NewServer(s.methods, &jrpc2.ServerOptions{AllowPush: true})
	srv.Start(ch)
	s.notifier.Register(srv)
	defer s.notifier.Unregister(srv)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.ctx.Done():
			srv.Stop()
		case <-stop:
		}
	}()
	if err := srv.Wait(); err != nil {
		s.log.Debug("Connection closed: %v", err)
	}
}

func (s *Server) restoreSchedules(ctx context.Context) error {
	all, err := s.store.Schedules(ctx)
	if err != nil {
		return err
	}
	missed, future := scheduler.LoadSchedules(all, s.now())
	for _, sc := range missed {
		s.log.Warning("Missed scheduled %s of %q at %s.", sc.Action, sc.Profile, sc.At.Format(time.RFC3339))
		if err := s.store.UpdateSchedule(ctx, sc.ID, sc.At, store.ScheduleStateMissed); err != nil {
			s.log.Warning("Unable to mark schedule %s missed: %v", sc.ID, err)
		}
	}
	for _, ev := range future {
		s.sched.Add(ev)
		if ev.CronExpr != "" {
			if err := s.store.UpdateSchedule(ctx, ev.ID, ev.TriggerAt, store.ScheduleStateScheduled); err != nil {
				s.log.Warning("Unable to update schedule %s: %v", ev.ID, err)
			}
		}
	}
	return nil
}

// Shutdown stops accepting connections, ends any run and drives the
// outputs low. It is safe to call more than once.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l, hs := s.listener, s.http
	s.listener, s.http = nil, nil
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if l != nil {
		if err := l.Close(); err != nil {
			s.log.Warning("Error closing listener: %v", err)
		}
	}
	if hs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(ctx); err != nil {
			s.log.Warning("Error shutting down the WebSocket endpoint: %v", err)
		}
	}
	err := s.ctl.close()
	s.conns.Wait()
	if rerr := os.Remove(s.cfg.SocketPath); rerr != nil && !os.IsNotExist(rerr) {
		s.log.Warning("Error removing socket file: %v", rerr)
	}
	s.log.Info("Daemon stopped.")
	return err
}

package server

import (
	"context"
	"errors"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"

	"github.com/portplayer/portplayer/common"
	"github.com/portplayer/portplayer/internal/scheduler"
	"github.com/portplayer/portplayer/internal/store"
	"github.com/portplayer/portplayer/pkg/playlist"
	"github.com/portplayer/portplayer/pkg/runctl"
	"github.com/portplayer/portplayer/pkg/trigger"
)

// Custom JSON-RPC error codes.
const (
	codeNotFound      = jrpc2.Code(-32001)
	codeNotRunning    = jrpc2.Code(-32002)
	codeBusy          = jrpc2.Code(-32003)
	codeNoProfile     = jrpc2.Code(-32004)
	codeInvalidParams = jrpc2.Code(-32602)
)

// rpcError maps domain errors onto JSON-RPC error codes.
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	code := jrpc2.Code(-32000)
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = codeNotFound
	case errors.Is(err, errNoProfile):
		code = codeNoProfile
	case errors.Is(err, runctl.ErrNotRunning):
		code = codeNotRunning
	case errors.Is(err, errBusy), errors.Is(err, runctl.ErrAlreadyRunning),
		errors.Is(err, playlist.ErrRunning), errors.Is(err, trigger.ErrRunning):
		code = codeBusy
	case errors.Is(err, playlist.ErrConfiguration), errors.Is(err, playlist.ErrStateOutOfRange),
		errors.Is(err, scheduler.ErrNoOccurrence):
		code = codeInvalidParams
	}
	return &jrpc2.Error{Code: code, Message: err.Error()}
}

func invalidParams(msg string) error {
	return &jrpc2.Error{Code: codeInvalidParams, Message: msg}
}

func (s *Server) rpcMethods() handler.Map {
	return handler.Map{
		common.MethodVersion:        handler.New(s.systemGetVersion),
		common.MethodPlayerLoad:     handler.New(s.playerLoad),
		common.MethodPlayerStart:    handler.New(s.playerStart),
		common.MethodPlayerStop:     handler.New(s.playerStop),
		common.MethodPlayerPause:    handler.New(s.playerPause),
		common.MethodPlayerStatus:   handler.New(s.playerStatus),
		common.MethodTriggerStart:   handler.New(s.triggerStart),
		common.MethodTriggerStop:    handler.New(s.triggerStop),
		common.MethodTriggerPause:   handler.New(s.triggerPause),
		common.MethodTriggerStatus:  handler.New(s.triggerStatus),
		common.MethodScheduleAdd:    handler.New(s.scheduleAdd),
		common.MethodScheduleRemove: handler.New(s.scheduleRemove),
		common.MethodScheduleList:   handler.New(s.scheduleList),
	}
}

func (s *Server) systemGetVersion(_ context.Context) (*common.VersionResult, error) {
	return &common.VersionResult{
		Version:   s.cfg.Version,
		Commit:    s.cfg.Commit,
		BuildType: s.cfg.BuildType,
	}, nil
}

func (s *Server) playerLoad(ctx context.Context, p *common.ProfileParam) (*common.PlayerStatus, error) {
	if p.Profile == "" {
		return nil, invalidParams("missing required param: profile")
	}
	if _, err := s.ctl.load(ctx, p.Profile); err != nil {
		return nil, rpcError(err)
	}
	st, err := s.ctl.playerStatus()
	return st, rpcError(err)
}

func (s *Server) playerStart(ctx context.Context, p *common.StartParams) (*common.PlayerStatus, error) {
	if _, err := s.ctl.startPlayer(ctx, p.Profile, p.State); err != nil {
		return nil, rpcError(err)
	}
	st, err := s.ctl.playerStatus()
	return st, rpcError(err)
}

func (s *Server) playerStop(_ context.Context) (*common.EmptyResult, error) {
	return &common.EmptyResult{}, rpcError(s.ctl.stopPlayer())
}

func (s *Server) playerPause(_ context.Context, p *common.PauseParams) (*common.EmptyResult, error) {
	return &common.EmptyResult{}, rpcError(s.ctl.pausePlayer(p.Pause))
}

func (s *Server) playerStatus(_ context.Context) (*common.PlayerStatus, error) {
	st, err := s.ctl.playerStatus()
	return st, rpcError(err)
}

func (s *Server) triggerStart(ctx context.Context, p *common.ProfileParam) (*common.TriggerStatus, error) {
	if _, err := s.ctl.startTrigger(ctx, p.Profile); err != nil {
		return nil, rpcError(err)
	}
	st, err := s.ctl.triggerStatus()
	return st, rpcError(err)
}

func (s *Server) triggerStop(_ context.Context) (*common.EmptyResult, error) {
	return &common.EmptyResult{}, rpcError(s.ctl.stopTrigger())
}

func (s *Server) triggerPause(_ context.Context, p *common.PauseParams) (*common.EmptyResult, error) {
	return &common.EmptyResult{}, rpcError(s.ctl.pauseTrigger(p.Pause))
}

func (s *Server) triggerStatus(_ context.Context) (*common.TriggerStatus, error) {
	st, err := s.ctl.triggerStatus()
	return st, rpcError(err)
}

func (s *Server) scheduleAdd(ctx context.Context, p *common.ScheduleParams) (*common.ScheduleItem, error) {
	if p.Profile == "" {
		return nil, invalidParams("missing required param: profile")
	}
	switch p.Action {
	case scheduler.ActionPlay, scheduler.ActionTrigger:
	default:
		return nil, invalidParams("action must be play or trigger")
	}
	if _, err := s.store.GetProfile(ctx, p.Profile); err != nil {
		return nil, rpcError(err)
	}
	now := s.now()
	at := p.At
	if p.Cron != "" {
		if err := scheduler.ValidateCron(p.Cron, now); err != nil {
			return nil, invalidParams(err.Error())
		}
		if at.IsZero() {
			next, err := scheduler.NextOccurrence(p.Cron, now)
			if err != nil {
				return nil, invalidParams(err.Error())
			}
			at = next
		}
	}
	if at.IsZero() {
		return nil, invalidParams("either at or cron is required")
	}
	if at.Before(now) {
		return nil, invalidParams("schedule time is in the past")
	}

	sc := &store.Schedule{Profile: p.Profile, Action: p.Action, At: at, CronExpr: p.Cron}
	if err := s.store.AddSchedule(ctx, sc); err != nil {
		return nil, rpcError(err)
	}
	s.sched.Add(scheduler.ScheduleEvent{
		ID:        sc.ID,
		Profile:   sc.Profile,
		Action:    sc.Action,
		TriggerAt: sc.At,
		CronExpr:  sc.CronExpr,
	})
	s.log.Info("Scheduled %s of %q at %s.", sc.Action, sc.Profile, sc.At.Format(time.RFC3339))
	return scheduleItem(sc), nil
}

func (s *Server) scheduleRemove(ctx context.Context, p *common.IDParam) (*common.EmptyResult, error) {
	if p.ID == "" {
		return nil, invalidParams("missing required param: id")
	}
	if err := s.store.DeleteSchedule(ctx, p.ID); err != nil {
		return nil, rpcError(err)
	}
	s.sched.Remove(p.ID)
	return &common.EmptyResult{}, nil
}

func (s *Server) scheduleList(ctx context.Context) (*common.ScheduleList, error) {
	all, err := s.store.Schedules(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	out := &common.ScheduleList{Schedules: make([]*common.ScheduleItem, 0, len(all))}
	for _, sc := range all {
		out.Schedules = append(out.Schedules, scheduleItem(sc))
	}
	return out, nil
}

func scheduleItem(sc *store.Schedule) *common.ScheduleItem {
	return &common.ScheduleItem{
		ID:      sc.ID,
		Profile: sc.Profile,
		Action:  sc.Action,
		At:      sc.At,
		Cron:    sc.CronExpr,
		State:   string(sc.State),
	}
}

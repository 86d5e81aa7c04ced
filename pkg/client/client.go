// Package client talks to the portplayer daemon over its Unix socket.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"

	"github.com/portplayer/portplayer/common"
)

// Client is a JSON-RPC connection to the daemon.
type Client struct {
	rpc *jrpc2.Client
}

// Options configures Dial.
type Options struct {
	// SocketPath defaults to common.SocketPath().
	SocketPath string
	// OnNotify receives daemon notifications on the client goroutine.
	OnNotify func(method string, req *jrpc2.Request)
	// DialTimeout bounds the connect. Defaults to one second.
	DialTimeout time.Duration
}

// Dial connects to a running daemon.
func Dial(opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	path := opts.SocketPath
	if path == "" {
		path = common.SocketPath()
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("error connecting to daemon: %w", err)
	}
	var copts *jrpc2.ClientOptions
	if opts.OnNotify != nil {
		fn := opts.OnNotify
		copts = &jrpc2.ClientOptions{
			OnNotify: func(req *jrpc2.Request) { fn(req.Method(), req) },
		}
	}
	return &Client{rpc: jrpc2.NewClient(channel.Line(conn, conn), copts)}, nil
}

// Close ends the connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func invoke[T any](ctx context.Context, c *Client, method string, params any) (*T, error) {
	var out T
	if err := c.rpc.CallResult(ctx, method, params, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return &out, nil
}

// Version returns the daemon version.
func (c *Client) Version(ctx context.Context) (*common.VersionResult, error) {
	return invoke[common.VersionResult](ctx, c, common.MethodVersion, nil)
}

// Load loads a stored profile into the daemon.
func (c *Client) Load(ctx context.Context, profile string) (*common.PlayerStatus, error) {
	return invoke[common.PlayerStatus](ctx, c, common.MethodPlayerLoad, &common.ProfileParam{Profile: profile})
}

// Play starts the playlist of profile at state. An empty profile plays the
// loaded one.
func (c *Client) Play(ctx context.Context, profile string, state int) (*common.PlayerStatus, error) {
	return invoke[common.PlayerStatus](ctx, c, common.MethodPlayerStart, &common.StartParams{Profile: profile, State: state})
}

// StopPlayer stops the playlist.
func (c *Client) StopPlayer(ctx context.Context) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodPlayerStop, nil)
	return err
}

// PausePlayer suspends or resumes the playlist.
func (c *Client) PausePlayer(ctx context.Context, pause bool) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodPlayerPause, &common.PauseParams{Pause: pause})
	return err
}

// PlayerStatus returns the player state.
func (c *Client) PlayerStatus(ctx context.Context) (*common.PlayerStatus, error) {
	return invoke[common.PlayerStatus](ctx, c, common.MethodPlayerStatus, nil)
}

// StartTrigger starts the trigger manager of profile. An empty profile
// uses the loaded one.
func (c *Client) StartTrigger(ctx context.Context, profile string) (*common.TriggerStatus, error) {
	return invoke[common.TriggerStatus](ctx, c, common.MethodTriggerStart, &common.ProfileParam{Profile: profile})
}

// StopTrigger stops the trigger manager.
func (c *Client) StopTrigger(ctx context.Context) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodTriggerStop, nil)
	return err
}

// PauseTrigger suspends or resumes the trigger manager.
func (c *Client) PauseTrigger(ctx context.Context, pause bool) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodTriggerPause, &common.PauseParams{Pause: pause})
	return err
}

// TriggerStatus returns the trigger manager state.
func (c *Client) TriggerStatus(ctx context.Context) (*common.TriggerStatus, error) {
	return invoke[common.TriggerStatus](ctx, c, common.MethodTriggerStatus, nil)
}

// Schedule stores a run of profile at at, repeating on cron when set.
func (c *Client) Schedule(ctx context.Context, p *common.ScheduleParams) (*common.ScheduleItem, error) {
	return invoke[common.ScheduleItem](ctx, c, common.MethodScheduleAdd, p)
}

// Unschedule removes schedule id.
func (c *Client) Unschedule(ctx context.Context, id string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodScheduleRemove, &common.IDParam{ID: id})
	return err
}

// Schedules lists the stored schedules.
func (c *Client) Schedules(ctx context.Context) (*common.ScheduleList, error) {
	return invoke[common.ScheduleList](ctx, c, common.MethodScheduleList, nil)
}

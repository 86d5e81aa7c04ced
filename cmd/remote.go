package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"

	cmdcommon "github.com/portplayer/portplayer/cmd/common"
	"github.com/portplayer/portplayer/common"
	"github.com/portplayer/portplayer/internal/scheduler"
	"github.com/portplayer/portplayer/pkg/client"
	"github.com/portplayer/portplayer/pkg/runctl"
)

const rpcTimeout = 5 * time.Second

var (
	remoteState  int
	remoteWatch  bool
	scheduleAt   string
	scheduleIn   time.Duration
	scheduleCron string
	scheduleAct  string

	remoteStartFlags = []cli.Flag{
		cli.IntFlag{
			Name:        "state, s",
			Usage:       "index of the first state",
			Destination: &remoteState,
		},
		cli.BoolFlag{
			Name:        "watch, w",
			Usage:       "show progress until the run ends",
			Destination: &remoteWatch,
		},
	}

	scheduleFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "action, a",
			Usage:       "play or trigger",
			Value:       scheduler.ActionPlay,
			Destination: &scheduleAct,
		},
		cli.StringFlag{
			Name:        "at",
			Usage:       "start time, RFC 3339 or HH:MM today",
			Destination: &scheduleAt,
		},
		cli.DurationFlag{
			Name:        "in",
			Usage:       "start after this delay",
			Destination: &scheduleIn,
		},
		cli.StringFlag{
			Name:        "cron",
			Usage:       `recurring schedule, e.g. "*/5 * * * *"`,
			Destination: &scheduleCron,
		},
	}
)

// dialDaemon starts the daemon if needed and connects to it. Tests
// replace it.
var dialDaemon = func(onNotify func(string, *jrpc2.Request)) (*client.Client, error) {
	path := resolveSocket()
	if err := client.EnsureDaemon(path); err != nil {
		return nil, err
	}
	return client.Dial(&client.Options{SocketPath: path, OnNotify: onNotify})
}

// withClient runs fn with a connected client and prints its error as a
// runtime error of action.
func withClient(ctx *cli.Context, action string, fn func(context.Context, *client.Client) error) error {
	c, err := dialDaemon(nil)
	if err != nil {
		cmdcommon.PrintRuntimeErr(ctx, "remote", "new_client", err)
		return nil
	}
	defer c.Close()
	rctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	if err := fn(rctx, c); err != nil {
		cmdcommon.PrintRuntimeErr(ctx, "remote", action, err)
	}
	return nil
}

func requireArg(ctx *cli.Context, what string) (string, bool) {
	arg := ctx.Args().First()
	if arg == "" {
		_ = cmdcommon.PrintErrWithCmdHelp(ctx, fmt.Errorf("no %s provided", what))
		return "", false
	}
	if arg == "help" {
		_ = cli.ShowCommandHelp(ctx, ctx.Command.Name)
		return "", false
	}
	return arg, true
}

func remoteLoad(ctx *cli.Context) error {
	name, ok := requireArg(ctx, "profile name")
	if !ok {
		return nil
	}
	return withClient(ctx, "load", func(rctx context.Context, c *client.Client) error {
		st, err := c.Load(rctx, name)
		if err != nil {
			return err
		}
		printPlayerStatus(st)
		return nil
	})
}

func remoteStart(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	name := ctx.Args().First()
	if remoteWatch {
		if err := watchRun(func(rctx context.Context, c *client.Client) error {
			_, err := c.Play(rctx, name, remoteState)
			return err
		}); err != nil {
			cmdcommon.PrintRuntimeErr(ctx, "remote", "start", err)
		}
		return nil
	}
	return withClient(ctx, "start", func(rctx context.Context, c *client.Client) error {
		st, err := c.Play(rctx, name, remoteState)
		if err != nil {
			return err
		}
		printPlayerStatus(st)
		return nil
	})
}

func remoteStop(ctx *cli.Context) error {
	return withClient(ctx, "stop", func(rctx context.Context, c *client.Client) error {
		if err := c.StopPlayer(rctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Stopped.")
		return nil
	})
}

func remotePause(pause bool) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		return withClient(ctx, "pause", func(rctx context.Context, c *client.Client) error {
			if err := c.PausePlayer(rctx, pause); err != nil {
				return err
			}
			if pause {
				fmt.Fprintln(stdout, "Paused.")
			} else {
				fmt.Fprintln(stdout, "Resumed.")
			}
			return nil
		})
	}
}

func remoteStatus(ctx *cli.Context) error {
	return withClient(ctx, "status", func(rctx context.Context, c *client.Client) error {
		ps, err := c.PlayerStatus(rctx)
		if err != nil {
			return err
		}
		printPlayerStatus(ps)
		ts, err := c.TriggerStatus(rctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout)
		printTriggerStatus(ts)
		return nil
	})
}

func remoteTrigger(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	name := ctx.Args().First()
	return withClient(ctx, "trigger", func(rctx context.Context, c *client.Client) error {
		ts, err := c.StartTrigger(rctx, name)
		if err != nil {
			return err
		}
		printTriggerStatus(ts)
		return nil
	})
}

func remoteTriggerStop(ctx *cli.Context) error {
	return withClient(ctx, "trigger-stop", func(rctx context.Context, c *client.Client) error {
		if err := c.StopTrigger(rctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Trigger stopped.")
		return nil
	})
}

func remoteSchedule(ctx *cli.Context) error {
	name, ok := requireArg(ctx, "profile name")
	if !ok {
		return nil
	}
	at, err := scheduleTime(time.Now(), scheduleAt, scheduleIn)
	if err != nil {
		return cmdcommon.PrintErrWithCmdHelp(ctx, err)
	}
	if at.IsZero() && scheduleCron == "" {
		return cmdcommon.PrintErrWithCmdHelp(ctx, errors.New("one of --at, --in or --cron is required"))
	}
	return withClient(ctx, "schedule", func(rctx context.Context, c *client.Client) error {
		item, err := c.Schedule(rctx, &common.ScheduleParams{
			Profile: name,
			Action:  scheduleAct,
			At:      at,
			Cron:    scheduleCron,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Scheduled %s of %q at %s (%s), id %s.\n",
			item.Action, item.Profile, item.At.Local().Format(time.RFC3339), humanize.Time(item.At), item.ID)
		return nil
	})
}

// scheduleTime resolves --at and --in against now. Both empty yields the
// zero time.
func scheduleTime(now time.Time, at string, in time.Duration) (time.Time, error) {
	switch {
	case at != "" && in != 0:
		return time.Time{}, errors.New("--at and --in are mutually exclusive")
	case in < 0:
		return time.Time{}, errors.New("--in must not be negative")
	case in > 0:
		return now.Add(in), nil
	case at == "":
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, at); err == nil {
		return t, nil
	}
	hm, err := time.ParseInLocation("15:04", at, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: expected RFC 3339 or HH:MM", at)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hm.Hour(), hm.Minute(), 0, 0, now.Location()), nil
}

func remoteUnschedule(ctx *cli.Context) error {
	id, ok := requireArg(ctx, "schedule id")
	if !ok {
		return nil
	}
	return withClient(ctx, "unschedule", func(rctx context.Context, c *client.Client) error {
		if err := c.Unschedule(rctx, id); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Removed schedule %s.\n", id)
		return nil
	})
}

func remoteSchedules(ctx *cli.Context) error {
	return withClient(ctx, "schedules", func(rctx context.Context, c *client.Client) error {
		list, err := c.Schedules(rctx)
		if err != nil {
			return err
		}
		if len(list.Schedules) == 0 {
			fmt.Fprintln(stdout, "portplayer: no schedules found")
			return nil
		}
		rows := [][]string{{"ID", "Profile", "Action", "At", "Cron", "State"}}
		for _, s := range list.Schedules {
			rows = append(rows, []string{s.ID, s.Profile, s.Action, humanize.Time(s.At), s.Cron, s.State})
		}
		cmdcommon.Table(stdout, []int{38, 16, 9, 16, 16, 11}, rows)
		return nil
	})
}

func remoteWatchCmd(ctx *cli.Context) error {
	if err := watchRun(nil); err != nil {
		cmdcommon.PrintRuntimeErr(ctx, "remote", "watch", err)
	}
	return nil
}

// watchRun shows the daemon's playlist run until it ends. start, when not
// nil, is called once the notifications are subscribed.
func watchRun(start func(context.Context, *client.Client) error) error {
	var (
		mu        sync.Mutex
		bars      *cmdcommon.PlayBars
		durations []time.Duration
		last      = -1
	)
	done := make(chan *common.DoneNotification, 1)
	onNotify := func(method string, req *jrpc2.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch method {
		case common.NotifyProgress:
			var n common.ProgressNotification
			if req.UnmarshalParams(&n) != nil || bars == nil {
				return
			}
			if n.State != last {
				last = n.State
				bars.EnterState(n.State, durationAt(durations, n.State))
			}
			bars.SetPlaylistTime(time.Duration(n.PlaylistMs) * time.Millisecond)
			bars.SetStateTime(time.Duration(n.StateMs) * time.Millisecond)
		case common.NotifyStateChanged:
			var n common.StateChangedNotification
			if req.UnmarshalParams(&n) != nil || bars == nil {
				return
			}
			last = n.State
			bars.EnterState(n.State, durationAt(durations, n.State))
		case common.NotifyPlayerDone:
			var n common.DoneNotification
			_ = req.UnmarshalParams(&n)
			select {
			case done <- &n:
			default:
			}
		}
	}

	c, err := dialDaemon(onNotify)
	if err != nil {
		return err
	}
	defer c.Close()

	rctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	if start != nil {
		if err := start(rctx, c); err != nil {
			return err
		}
	}
	st, err := c.PlayerStatus(rctx)
	if err != nil {
		return err
	}
	if st.State == runctl.Stopped.String() && start == nil {
		fmt.Fprintf(stdout, "Nothing is playing on %q.\n", st.Profile)
		return nil
	}

	pb := mpb.New(mpb.WithOutput(stdout), mpb.WithWidth(48))
	mu.Lock()
	durations = profileDurations(st.Profile)
	bars = cmdcommon.InitPlayBars(pb, "", time.Duration(st.TotalMs)*time.Millisecond, st.NumStates)
	last = st.CurrentState
	bars.EnterState(last, durationAt(durations, last))
	mu.Unlock()

	n := <-done
	mu.Lock()
	bars.Finish(n.Error == "")
	mu.Unlock()
	pb.Wait()
	if n.Error != "" {
		return errors.New(n.Error)
	}
	fmt.Fprintf(stdout, "Run %s of %q ended.\n", n.RunID, n.Profile)
	return nil
}

// profileDurations reads the state durations of a stored profile. The
// daemon and the CLI share the profile database.
func profileDurations(name string) []time.Duration {
	st, err := openStore()
	if err != nil {
		return nil
	}
	defer st.Close()
	p, err := st.GetProfile(context.Background(), name)
	if err != nil {
		return nil
	}
	pl, err := p.Build()
	if err != nil {
		return nil
	}
	return pl.Durations()
}

func durationAt(d []time.Duration, i int) time.Duration {
	if i < 0 || i >= len(d) {
		return 0
	}
	return d[i]
}

func printPlayerStatus(st *common.PlayerStatus) {
	fmt.Fprintf(stdout, `Profile`+"\t\t"+`: %s
Player`+"\t\t"+`: %s
State`+"\t\t"+`: %d of %d
Length`+"\t\t"+`: %s
Repeat`+"\t\t"+`: %t
`,
		st.Profile,
		st.State,
		st.CurrentState+1, st.NumStates,
		fmtDuration(time.Duration(st.TotalMs)*time.Millisecond),
		st.Repeat,
	)
	if st.RunID != "" {
		fmt.Fprintf(stdout, "Run\t\t: %s\n", st.RunID)
	}
}

func printTriggerStatus(st *common.TriggerStatus) {
	fmt.Fprintf(stdout, `Trigger`+"\t\t"+`: %s
Period`+"\t\t"+`: %s, %s mode
Next id`+"\t\t"+`: %s
Rate`+"\t\t"+`: %.2f Hz
`,
		st.State,
		fmtDuration(time.Duration(st.PeriodMs*float64(time.Millisecond))), st.Mode,
		humanize.Comma(int64(st.NextID)),
		st.Rate,
	)
}

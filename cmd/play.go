package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"

	"github.com/portplayer/portplayer/cmd/common"
	"github.com/portplayer/portplayer/internal/session"
	"github.com/portplayer/portplayer/internal/store"
	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/playlist"
	"github.com/portplayer/portplayer/pkg/rt"
)

var (
	startState int

	playFlags = withFlags(
		[]cli.Flag{
			profileFlag,
			dryRunFlag,
			cli.IntFlag{
				Name:        "state, s",
				Usage:       "index of the first state",
				Destination: &startState,
			},
		},
		profileFieldFlags,
	)
)

// stdout is where the commands print. Tests replace it.
var stdout io.Writer = os.Stdout

// sessionOptions returns the options every local session is opened with.
// Tests replace it to inject fake pins and timers.
var sessionOptions = func(l logger.Logger) *session.Options {
	return &session.Options{
		Logger:   l,
		Promoter: rt.Platform(l),
		ScriptFs: afero.NewOsFs(),
	}
}

func play(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	st, err := openStore()
	if err != nil {
		common.PrintRuntimeErr(ctx, "play", "open_store", err)
		return nil
	}
	defer st.Close()
	p, err := resolveProfile(ctx, st)
	if err != nil {
		common.PrintRuntimeErr(ctx, "play", "profile", err)
		return nil
	}
	if err := playProfile(st, p, startState); err != nil {
		common.PrintRuntimeErr(ctx, "play", "run", err)
	}
	return nil
}

// playProfile plays p until it ends or a stop signal arrives. The run is
// recorded in st.
func playProfile(st *store.Store, p *store.Profile, first int) error {
	pb := mpb.New(mpb.WithOutput(stdout), mpb.WithWidth(48))
	l := newLogger(pb)

	var (
		bars      *common.PlayBars
		durations []time.Duration
	)
	opts := sessionOptions(l)
	opts.Handlers = &playlist.Handlers{
		PlaylistTimeHandler: func(d time.Duration) { bars.SetPlaylistTime(d) },
		StateTimeHandler:    func(d time.Duration) { bars.SetStateTime(d) },
		StateChangedHandler: func(i int) { bars.EnterState(i, durations[i]) },
		ErrorHandler:        func(err error) { l.Error("%v", err) },
	}
	sess, err := session.Open(p, opts)
	if err != nil {
		pb.Wait()
		return err
	}
	pl := sess.Player.Playlist()
	durations = pl.Durations()
	if err := sess.Player.SetCurrentState(first); err != nil {
		pb.Wait()
		return multierror.Append(err, sess.Close()).ErrorOrNil()
	}
	bars = common.InitPlayBars(pb, "", pl.TotalTime(), pl.NumStates())
	if len(durations) > 0 {
		bars.EnterState(first, durations[first])
	}

	run, err := st.StartRun(context.Background(), store.KindPlaylist, p.Name)
	if err != nil {
		l.Warning("Unable to record the run: %v", err)
	}
	if err := sess.Player.Start(); err != nil {
		bars.Finish(false)
		pb.Wait()
		l = newLogger(os.Stderr)
		finishRun(st, l, run, store.OutcomeFailed, 0)
		return multierror.Append(err, sess.Close()).ErrorOrNil()
	}

	sigs := make(chan os.Signal, 1)
	notifyControl(sigs)
	defer stopControl(sigs)

	var stopped, paused bool
	for done := false; !done; {
		select {
		case <-sess.Player.Done():
			done = true
		case sig := <-sigs:
			if pauseSignal != nil && sig == pauseSignal {
				paused = !paused
				if err := sess.Player.Pause(paused); err != nil {
					l.Warning("Unable to pause: %v", err)
				} else if paused {
					l.Info("Paused.")
				} else {
					l.Info("Resumed.")
				}
				continue
			}
			stopped = true
			_ = sess.Player.Stop()
		}
	}

	runErr := sess.Player.Err()
	bars.Finish(runErr == nil && !stopped)
	pb.Wait()
	l = newLogger(os.Stderr)
	finishRun(st, l, run, outcomeOf(stopped, runErr), 0)
	closeErr := sess.Close()

	switch {
	case runErr != nil:
	case stopped:
		fmt.Fprintf(stdout, "Stopped %q.\n", p.Name)
	default:
		fmt.Fprintf(stdout, "Played %q: %d states in %s.\n", p.Name, pl.NumStates(), fmtDuration(pl.TotalTime()))
	}
	return multierror.Append(runErr, closeErr).ErrorOrNil()
}

func finishRun(st *store.Store, l logger.Logger, run *store.Run, outcome string, triggers uint64) {
	if run == nil {
		return
	}
	if err := st.FinishRun(context.Background(), run.ID, outcome, triggers); err != nil {
		l.Warning("Unable to record the end of the run: %v", err)
	}
}

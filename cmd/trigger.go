package cmd

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli"

	"github.com/portplayer/portplayer/cmd/common"
	"github.com/portplayer/portplayer/internal/session"
	"github.com/portplayer/portplayer/internal/store"
	"github.com/portplayer/portplayer/pkg/trigger"
)

var (
	rateInterval time.Duration
	maxTriggers  uint64

	triggerFlags = withFlags(
		[]cli.Flag{
			profileFlag,
			dryRunFlag,
			cli.DurationFlag{
				Name:        "rate-interval",
				Usage:       "how often the trigger rate is printed",
				Value:       trigger.DefaultRateInterval,
				Destination: &rateInterval,
			},
			cli.Uint64Flag{
				Name:        "count, n",
				Usage:       "stop after this many triggers (0: until Ctrl+C)",
				Destination: &maxTriggers,
			},
		},
		profileFieldFlags,
	)
)

func triggerCmd(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	st, err := openStore()
	if err != nil {
		common.PrintRuntimeErr(ctx, "trigger", "open_store", err)
		return nil
	}
	defer st.Close()
	p, err := resolveProfile(ctx, st)
	if err != nil {
		common.PrintRuntimeErr(ctx, "trigger", "profile", err)
		return nil
	}
	if err := runTrigger(st, p, rateInterval, maxTriggers); err != nil {
		common.PrintRuntimeErr(ctx, "trigger", "run", err)
	}
	return nil
}

// runTrigger emits triggers with p's settings until a stop signal arrives
// or limit triggers were emitted. A zero limit means no limit.
func runTrigger(st *store.Store, p *store.Profile, interval time.Duration, limit uint64) error {
	l := newLogger(os.Stderr)

	var fired atomic.Uint64
	reached := make(chan struct{})
	opts := sessionOptions(l)
	rm := trigger.NewRateMonitor(&trigger.RateMonitorOpts{
		Interval: interval,
		OnRate: func(perSecond float64) {
			if perSecond > 0 {
				fmt.Fprintf(stdout, "%s triggers, %.2f Hz\n", humanize.Comma(int64(fired.Load())), perSecond)
			}
		},
		Logger:       l,
		TimerFactory: opts.TimerFactory,
	})
	opts.OnTrigger = func(id uint64) {
		rm.Increment()
		if n := fired.Add(1); limit > 0 && n == limit {
			close(reached)
		}
	}
	sess, err := session.Open(p, opts)
	if err != nil {
		return err
	}

	run, err := st.StartRun(context.Background(), store.KindTrigger, p.Name)
	if err != nil {
		l.Warning("Unable to record the run: %v", err)
	}
	if err := rm.Start(); err != nil {
		l.Warning("Rate monitor disabled: %v", err)
	}
	if err := sess.Trigger.Start(); err != nil {
		_ = rm.Stop()
		finishRun(st, l, run, store.OutcomeFailed, 0)
		return multierror.Append(err, sess.Close()).ErrorOrNil()
	}
	fmt.Fprintf(stdout, "Triggering %q every %s (%s mode).\n", p.Name, sess.Trigger.Period(), sess.Trigger.Mode())

	sigs := make(chan os.Signal, 1)
	notifyControl(sigs)
	defer stopControl(sigs)

	var stopped, paused bool
	for done := false; !done; {
		select {
		case <-sess.Trigger.Done():
			done = true
		case <-reached:
			reached = nil
			_ = sess.Trigger.Stop()
		case sig := <-sigs:
			if pauseSignal != nil && sig == pauseSignal {
				paused = !paused
				if err := sess.Trigger.Pause(paused); err != nil {
					l.Warning("Unable to pause: %v", err)
				}
				continue
			}
			stopped = true
			_ = sess.Trigger.Stop()
		}
	}

	runErr := sess.Trigger.Wait()
	_ = rm.Stop()
	n := fired.Load()
	finishRun(st, l, run, outcomeOf(stopped, runErr), n)
	closeErr := sess.Close()
	if runErr == nil {
		fmt.Fprintf(stdout, "Emitted %s triggers.\n", humanize.Comma(int64(n)))
	}
	return multierror.Append(runErr, closeErr).ErrorOrNil()
}

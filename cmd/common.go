package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli"

	"github.com/portplayer/portplayer/common"
	"github.com/portplayer/portplayer/internal/store"
	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/playlist"
)

var (
	profileName    string
	backend        string
	device         string
	pinList        string
	playlistText   string
	durationsText  string
	unitText       string
	repeat         bool
	updateInterval time.Duration
	triggerPeriod  time.Duration
	triggerMode    string
	scriptPath     string
	dryRun         bool

	profileFlag = cli.StringFlag{
		Name:        "profile, p",
		Usage:       "name of a stored profile",
		Destination: &profileName,
	}
	dryRunFlag = cli.BoolFlag{
		Name:        "dry-run",
		Usage:       "drive in-memory pins instead of the profile's device",
		Destination: &dryRun,
	}

	profileFieldFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "backend, b",
			Usage:       "output backend: parport, gpio or memory",
			Destination: &backend,
		},
		cli.StringFlag{
			Name:        "device",
			Usage:       "ppdev device path (parport) or sysfs root (gpio)",
			Destination: &device,
		},
		cli.StringFlag{
			Name:        "pins",
			Usage:       `pin list as "name address index" triples`,
			Destination: &pinList,
		},
		cli.StringFlag{
			Name:        "playlist, l",
			Usage:       `space separated states, e.g. "10 01"`,
			Destination: &playlistText,
		},
		cli.StringFlag{
			Name:        "durations, d",
			Usage:       `space separated state durations, e.g. "5 5"`,
			Destination: &durationsText,
		},
		cli.StringFlag{
			Name:        "unit, u",
			Usage:       "duration unit: min, s or ms",
			Destination: &unitText,
		},
		cli.BoolFlag{
			Name:        "repeat, r",
			Usage:       "restart the playlist after the last state",
			Destination: &repeat,
		},
		cli.DurationFlag{
			Name:        "update-interval",
			Usage:       "player tick interval",
			Destination: &updateInterval,
		},
		cli.DurationFlag{
			Name:        "period",
			Usage:       "trigger period",
			Destination: &triggerPeriod,
		},
		cli.StringFlag{
			Name:        "mode",
			Usage:       "trigger pacing: tick or elapsed",
			Destination: &triggerMode,
		},
		cli.StringFlag{
			Name:        "script",
			Usage:       "path of a JavaScript hook script",
			Destination: &scriptPath,
		},
	}
)

// openStore opens the profile database. Tests replace it.
var openStore = func() (*store.Store, error) {
	path := common.DBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return store.Open(path)
}

// newLogger returns the console logger of the commands.
func newLogger(w io.Writer) logger.Logger {
	l := log.New(w, "", log.LstdFlags)
	if common.Debug() {
		return logger.NewDebugLogger(l)
	}
	return logger.NewStandardLogger(l)
}

// resolveProfile loads the profile named by --profile, or the example
// profile, and applies the profile flags that were set on ctx.
func resolveProfile(ctx *cli.Context, st *store.Store) (*store.Profile, error) {
	var p *store.Profile
	if profileName != "" {
		var err error
		p, err = st.GetProfile(context.Background(), profileName)
		if err != nil {
			return nil, err
		}
	} else {
		p = store.Example()
	}
	if err := applyProfileFlags(ctx, p); err != nil {
		return nil, err
	}
	if dryRun {
		p.Backend = store.BackendMemory
	}
	return p, nil
}

// applyProfileFlags overwrites the fields of p whose flags are set.
func applyProfileFlags(ctx *cli.Context, p *store.Profile) error {
	if ctx.IsSet("backend") {
		p.Backend = backend
	}
	if ctx.IsSet("device") {
		p.Device = device
	}
	if ctx.IsSet("pins") {
		p.Pins = pinList
		if !ctx.IsSet("playlist") {
			p.Playlist = ""
			p.Durations = ""
		}
	}
	if ctx.IsSet("playlist") {
		p.Playlist = playlistText
		if !ctx.IsSet("durations") {
			p.Durations = ""
		}
	}
	if ctx.IsSet("durations") {
		p.Durations = durationsText
	}
	if ctx.IsSet("unit") {
		u, err := playlist.ParseUnit(unitText)
		if err != nil {
			return err
		}
		p.Unit = u
	}
	if ctx.IsSet("repeat") {
		p.Repeat = repeat
	}
	if ctx.IsSet("update-interval") {
		p.UpdateInterval = updateInterval
	}
	if ctx.IsSet("period") {
		p.TriggerPeriod = triggerPeriod
	}
	if ctx.IsSet("mode") {
		p.TriggerMode = triggerMode
	}
	if ctx.IsSet("script") {
		p.Script = scriptPath
	}
	return nil
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func outcomeOf(stopped bool, err error) string {
	switch {
	case err != nil:
		return store.OutcomeFailed
	case stopped:
		return store.OutcomeStopped
	}
	return store.OutcomeFinished
}

func fmtDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return fmt.Sprint(d.Round(time.Millisecond))
}

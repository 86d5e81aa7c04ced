// Package common holds the helpers shared by the portplayer commands:
// progress bars, help and error printing, and table formatting.
package common

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// VersionCmdStr is printed by the version command. Execute fills it in.
var VersionCmdStr string

var (
	showAppHelpAndExit = cli.ShowAppHelpAndExit
	showCommandHelp    = cli.ShowCommandHelp
)

var barStyle = mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")

// PlayBars shows the position in the playlist and in the current state.
// Totals and positions are in microseconds.
type PlayBars struct {
	Playlist *mpb.Bar
	State    *mpb.Bar

	state atomic.Int64
	count int
}

// InitPlayBars adds the playlist and state bars to p. total is the length
// of one pass and numStates the playlist length.
func InitPlayBars(p *mpb.Progress, prefix string, total time.Duration, numStates int) *PlayBars {
	b := &PlayBars{count: numStates}

	name := prefix + "Playlist"
	b.Playlist = p.New(total.Microseconds(),
		barStyle,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.Percentage(decor.WC{W: 5}),
		),
		mpb.AppendDecorators(
			decor.Any(func(s decor.Statistics) string {
				return fmt.Sprintf("%v / %v", micros(s.Current), micros(s.Total))
			}),
		),
	)
	b.Playlist.EnableTriggerComplete()

	name = prefix + "State"
	b.State = p.New(0,
		barStyle,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.Any(func(decor.Statistics) string {
				return fmt.Sprintf("%d/%d", b.state.Load()+1, b.count)
			}, decor.WC{W: 8}),
		),
		mpb.AppendDecorators(
			decor.Any(func(s decor.Statistics) string {
				return micros(s.Current).String()
			}),
		),
	)
	b.State.EnableTriggerComplete()
	return b
}

// EnterState resets the state bar for state index lasting d.
func (b *PlayBars) EnterState(index int, d time.Duration) {
	b.state.Store(int64(index))
	b.State.SetCurrent(0)
	b.State.SetTotal(d.Microseconds(), false)
}

// SetPlaylistTime moves the playlist bar.
func (b *PlayBars) SetPlaylistTime(d time.Duration) {
	b.Playlist.SetCurrent(d.Microseconds())
}

// SetStateTime moves the state bar.
func (b *PlayBars) SetStateTime(d time.Duration) {
	b.State.SetCurrent(d.Microseconds())
}

// Finish ends both bars wherever they stand, marking them complete when
// ok and aborted otherwise. Progress.Wait returns once it has been called.
func (b *PlayBars) Finish(ok bool) {
	for _, bar := range []*mpb.Bar{b.Playlist, b.State} {
		if ok {
			bar.SetTotal(-1, true)
		} else {
			bar.Abort(false)
		}
	}
}

func micros(v int64) time.Duration {
	return (time.Duration(v) * time.Microsecond).Round(time.Millisecond)
}

// Help prints the app help, or the help of the command named by the first
// argument.
func Help(ctx *cli.Context) error {
	arg := ctx.Args().First()
	if arg == "" || arg == "help" {
		fmt.Printf("%s %s\n", ctx.App.Name, ctx.App.Version)
		showAppHelpAndExit(ctx, 0)
		return nil
	}
	if err := showCommandHelp(ctx, arg); err != nil {
		return PrintErrWithHelp(ctx, err)
	}
	return nil
}

// GetVersion prints VersionCmdStr.
func GetVersion(*cli.Context) error {
	fmt.Println(VersionCmdStr)
	return nil
}

// PrintRuntimeErr prints err as "<app>: <cmd>[<action>]: <err>". ctx may
// be nil.
func PrintRuntimeErr(ctx *cli.Context, cmd, action string, err error) {
	if err == nil {
		fmt.Println("err is nil", "[", cmd, "|", action, "]")
		return
	}
	name := os.Args[0]
	if ctx != nil && ctx.App != nil {
		name = ctx.App.HelpName
	}
	fmt.Printf("%s: %s[%s]: %s\n", name, cmd, action, err.Error())
}

// PrintErrWithCmdHelp prints err followed by the current command's help.
func PrintErrWithCmdHelp(ctx *cli.Context, err error) error {
	return printErrWithCallback(ctx, err, func() {
		if err := showCommandHelp(ctx, ctx.Command.Name); err != nil {
			fmt.Println(err.Error())
		}
	})
}

// PrintErrWithHelp prints err followed by the app help and exits with 1.
func PrintErrWithHelp(ctx *cli.Context, err error) error {
	return printErrWithCallback(ctx, err, func() {
		showAppHelpAndExit(ctx, 1)
	})
}

func printErrWithCallback(ctx *cli.Context, err error, callback func()) error {
	if err == nil {
		return nil
	}
	estr := strings.ToLower(err.Error())
	if estr == "flag: help requested" {
		return Help(ctx)
	}
	if strings.Contains(estr, "-version") {
		return GetVersion(ctx)
	}
	fmt.Printf("%s: %s\n\n", ctx.App.HelpName, err.Error())
	callback()
	return nil
}

// UsageErrorCallback is the OnUsageError of the app and its commands.
func UsageErrorCallback(ctx *cli.Context, err error, _ bool) error {
	if ctx.Command.Name != "" {
		return PrintErrWithCmdHelp(ctx, err)
	}
	return PrintErrWithHelp(ctx, err)
}

// Beaut centers s in a field of width n. Strings longer than n are cut
// and end with "..".
func Beaut(s string, n int) string {
	if len(s) > n {
		if n <= 2 {
			return s[:n]
		}
		return s[:n-2] + ".."
	}
	x := n - len(s)
	w := string(replic(' ', x/2))
	b := w + s + w
	if x%2 != 0 {
		b += " "
	}
	return b
}

// Table writes rows as a pipe separated table with fixed column widths.
// The first row is the header.
func Table(w io.Writer, widths []int, rows [][]string) {
	line := func(cells []string) {
		var sb strings.Builder
		sb.WriteByte('|')
		for i, width := range widths {
			var c string
			if i < len(cells) {
				c = cells[i]
			}
			sb.WriteString(Beaut(c, width))
			sb.WriteByte('|')
		}
		fmt.Fprintln(w, sb.String())
	}
	sep := make([]string, len(widths))
	for i, width := range widths {
		sep[i] = string(replic('-', width))
	}
	for i, r := range rows {
		line(r)
		if i == 0 {
			line(sep)
		}
	}
}

func replic[aT any](v aT, n int) []aT {
	if n < 0 {
		n = 0
	}
	a := make([]aT, n)
	for i := range a {
		a[i] = v
	}
	return a
}

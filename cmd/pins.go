package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli"

	"github.com/portplayer/portplayer/cmd/common"
	"github.com/portplayer/portplayer/internal/store"
	"github.com/portplayer/portplayer/pkg/pins"
	"github.com/portplayer/portplayer/pkg/playlist"
)

var (
	setState string

	pinsFlags = withFlags(
		[]cli.Flag{
			profileFlag,
			dryRunFlag,
			cli.StringFlag{
				Name:        "set",
				Usage:       `state to drive until Ctrl+C, e.g. "1010"`,
				Destination: &setState,
			},
		},
		profileFieldFlags,
	)
)

func pinsCmd(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	st, err := openStore()
	if err != nil {
		common.PrintRuntimeErr(ctx, "pins", "open_store", err)
		return nil
	}
	defer st.Close()
	p, err := resolveProfile(ctx, st)
	if err != nil {
		common.PrintRuntimeErr(ctx, "pins", "profile", err)
		return nil
	}
	if setState == "" {
		if err := listPins(p); err != nil {
			common.PrintRuntimeErr(ctx, "pins", "list", err)
		}
		return nil
	}
	if err := holdState(p, setState); err != nil {
		common.PrintRuntimeErr(ctx, "pins", "set", err)
	}
	return nil
}

// listPins prints the pin list of p without opening the device.
func listPins(p *store.Profile) error {
	specs, err := pins.ParseList(p.Pins)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Pins of %q (%s backend):\n\n", p.Name, p.Backend)
	rows := [][]string{{"#", "Name", "Address", "Index"}}
	for i, s := range specs {
		rows = append(rows, []string{
			strconv.Itoa(i),
			s.Name,
			fmt.Sprintf("%#x", s.Address),
			strconv.FormatUint(uint64(s.Index), 10),
		})
	}
	common.Table(stdout, []int{4, 16, 10, 7}, rows)
	return nil
}

// holdState drives state on the pins of p until a stop signal arrives.
// Every pin is low again when it returns.
func holdState(p *store.Profile, text string) error {
	l := newLogger(os.Stderr)
	specs, err := pins.ParseList(p.Pins)
	if err != nil {
		return err
	}
	pl := playlist.New(len(specs))
	if err := pl.LoadPlaylist(text); err != nil {
		return err
	}
	if pl.NumStates() != 1 {
		return fmt.Errorf("expected one state, got %d", pl.NumStates())
	}
	state := pl.State(0)

	b := sessionOptions(l).Backend
	if b == nil {
		b = p.OpenBackend()
	}
	m := pins.NewManager(b, l)
	if err := m.Load(p.Pins); err != nil {
		_ = b.Close()
		return err
	}
	if err := m.ApplyState(0, state); err != nil {
		return multierror.Append(err, m.Close()).ErrorOrNil()
	}
	fmt.Fprintf(stdout, "Holding %s on %q. Press Ctrl+C to release.\n", state, p.Name)

	sigs := make(chan os.Signal, 1)
	notifyControl(sigs)
	defer stopControl(sigs)
	for sig := range sigs {
		if pauseSignal == nil || sig != pauseSignal {
			break
		}
	}
	return m.Close()
}

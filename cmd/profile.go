package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/portplayer/portplayer/cmd/common"
	"github.com/portplayer/portplayer/internal/store"
	"github.com/portplayer/portplayer/pkg/playlist"
)

var profileSaveFlags = profileFieldFlags

func profileSave(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no profile name provided"))
	} else if name == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	st, err := openStore()
	if err != nil {
		common.PrintRuntimeErr(ctx, "profile-save", "open_store", err)
		return nil
	}
	defer st.Close()

	p, err := st.GetProfile(context.Background(), name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p = store.Example()
		p.Name = name
	case err != nil:
		common.PrintRuntimeErr(ctx, "profile-save", "get_profile", err)
		return nil
	}
	if err := applyProfileFlags(ctx, p); err != nil {
		common.PrintRuntimeErr(ctx, "profile-save", "flags", err)
		return nil
	}
	if err := st.SaveProfile(context.Background(), p); err != nil {
		common.PrintRuntimeErr(ctx, "profile-save", "save", err)
		return nil
	}
	fmt.Fprintf(stdout, "Saved profile %q.\n", p.Name)
	return nil
}

func profileList(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	st, err := openStore()
	if err != nil {
		common.PrintRuntimeErr(ctx, "profile-list", "open_store", err)
		return nil
	}
	defer st.Close()
	all, err := st.ListProfiles(context.Background())
	if err != nil {
		common.PrintRuntimeErr(ctx, "profile-list", "list", err)
		return nil
	}
	if len(all) == 0 {
		fmt.Fprintln(stdout, "portplayer: no profiles found")
		return nil
	}
	rows := [][]string{{"Name", "Backend", "Pins", "States", "Length", "Updated"}}
	for _, p := range all {
		states, length := "?", "?"
		if pl, err := p.Build(); err == nil {
			states = fmt.Sprint(pl.NumStates())
			length = fmtDuration(pl.TotalTime())
		}
		rows = append(rows, []string{
			p.Name,
			p.Backend,
			fmt.Sprint(pinCount(p)),
			states,
			length,
			humanize.Time(p.UpdatedAt),
		})
	}
	common.Table(stdout, []int{20, 9, 6, 8, 10, 16}, rows)
	return nil
}

func profileShow(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no profile name provided"))
	} else if name == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	st, err := openStore()
	if err != nil {
		common.PrintRuntimeErr(ctx, "profile-show", "open_store", err)
		return nil
	}
	defer st.Close()
	p, err := st.GetProfile(context.Background(), name)
	if err != nil {
		common.PrintRuntimeErr(ctx, "profile-show", "get_profile", err)
		return nil
	}
	printProfile(p)
	return nil
}

func printProfile(p *store.Profile) {
	script := p.Script
	if script == "" {
		script = "-"
	}
	fmt.Fprintf(stdout, `Profile`+"\t\t"+`: %s
Backend`+"\t\t"+`: %s %s
Pins`+"\t\t"+`: %s
Playlist`+"\t"+`: %s
Durations`+"\t"+`: %s %s
Repeat`+"\t\t"+`: %t
Update`+"\t\t"+`: %s
Trigger`+"\t\t"+`: %s, %s mode
Script`+"\t\t"+`: %s
`,
		p.Name,
		p.Backend, p.Device,
		p.Pins,
		p.Playlist,
		p.Durations, p.Unit,
		p.Repeat,
		fmtDuration(p.UpdateInterval),
		fmtDuration(p.TriggerPeriod), p.TriggerMode,
		script,
	)
	if pl, err := p.Build(); err != nil {
		fmt.Fprintf(stdout, "Invalid\t\t: %v\n", err)
	} else {
		printStates(pl)
	}
}

func printStates(pl *playlist.Playlist) {
	if pl.NumStates() == 0 {
		return
	}
	fmt.Fprintln(stdout)
	rows := [][]string{{"#", "State", "Duration"}}
	durations := pl.Durations()
	for i := 0; i < pl.NumStates(); i++ {
		rows = append(rows, []string{fmt.Sprint(i), pl.State(i).String(), fmtDuration(durations[i])})
	}
	common.Table(stdout, []int{5, pl.NumItems() + 4, 12}, rows)
}

func profileDelete(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no profile name provided"))
	} else if name == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	st, err := openStore()
	if err != nil {
		common.PrintRuntimeErr(ctx, "profile-delete", "open_store", err)
		return nil
	}
	defer st.Close()
	if err := st.DeleteProfile(context.Background(), name); err != nil {
		common.PrintRuntimeErr(ctx, "profile-delete", "delete", err)
		return nil
	}
	fmt.Fprintf(stdout, "Deleted profile %q.\n", name)
	return nil
}

func pinCount(p *store.Profile) int {
	pl, err := p.Build()
	if err != nil {
		return 0
	}
	return pl.NumItems()
}

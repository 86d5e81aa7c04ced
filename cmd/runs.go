package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/portplayer/portplayer/cmd/common"
	"github.com/portplayer/portplayer/internal/store"
)

var (
	runsLimit int

	runsFlags = []cli.Flag{
		cli.IntFlag{
			Name:        "limit, n",
			Usage:       "number of runs to show (0: all)",
			Value:       10,
			Destination: &runsLimit,
		},
	}
)

func runs(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	st, err := openStore()
	if err != nil {
		common.PrintRuntimeErr(ctx, "runs", "open_store", err)
		return nil
	}
	defer st.Close()
	all, err := st.Runs(context.Background(), runsLimit)
	if err != nil {
		common.PrintRuntimeErr(ctx, "runs", "list", err)
		return nil
	}
	if len(all) == 0 {
		fmt.Fprintln(stdout, "portplayer: no runs found")
		return nil
	}
	rows := [][]string{{"Run", "Kind", "Profile", "Started", "Length", "Outcome", "Triggers"}}
	for _, r := range all {
		rows = append(rows, runRow(r))
	}
	common.Table(stdout, []int{10, 10, 16, 16, 10, 10, 10}, rows)
	return nil
}

func runRow(r *store.Run) []string {
	length, outcome := "-", "running"
	if r.Finished() {
		length = fmtDuration(r.EndedAt.Sub(r.StartedAt))
		outcome = r.Outcome
	}
	triggers := "-"
	if r.Kind == store.KindTrigger {
		triggers = humanize.Comma(int64(r.Triggers))
	}
	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return []string{id, r.Kind, r.Profile, humanize.Time(r.StartedAt), length, outcome, triggers}
}

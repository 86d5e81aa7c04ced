package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/portplayer/portplayer/cmd/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

var currentBuildArgs BuildArgs

func Execute(args []string, bArgs BuildArgs) error {
	currentBuildArgs = bArgs
	app := cli.App{
		Name:                  "portplayer",
		HelpName:              "portplayer",
		Usage:                 "Plays output state sequences on parallel port and GPIO pins.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "portplayer <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Commands: []cli.Command{
			{
				Name:                   "play",
				Aliases:                []string{"p"},
				Usage:                  "play a profile's playlist on its pins",
				Description:            PlayDescription,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Action:                 play,
				Flags:                  playFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:                   "trigger",
				Aliases:                []string{"t"},
				Usage:                  "emit periodic trigger events",
				Description:            TriggerDescription,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Action:                 triggerCmd,
				Flags:                  triggerFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:               "pins",
				Usage:              "list a profile's pins or hold a state on them",
				Description:        PinsDescription,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             pinsCmd,
				Flags:              pinsFlags,
			},
			{
				Name:               "profile",
				Usage:              "manage stored profiles",
				Description:        ProfileDescription,
				CustomHelpTemplate: SUBCMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Subcommands: []cli.Command{
					{
						Name:               "save",
						Usage:              "create or update a profile",
						UsageText:          "profile save <name> [flags]",
						Description:        ProfileSaveDescription,
						CustomHelpTemplate: CMD_HELP_TEMPL,
						OnUsageError:       common.UsageErrorCallback,
						Action:             profileSave,
						Flags:              profileSaveFlags,
					},
					{
						Name:    "list",
						Aliases: []string{"ls"},
						Usage:   "list stored profiles",
						Action:  profileList,
					},
					{
						Name:      "show",
						Usage:     "show a profile and its states",
						UsageText: "profile show <name>",
						Action:    profileShow,
					},
					{
						Name:      "delete",
						Aliases:   []string{"rm"},
						Usage:     "delete a profile",
						UsageText: "profile delete <name>",
						Action:    profileDelete,
					},
				},
			},
			{
				Name:               "runs",
				Usage:              "show the run history",
				Description:        RunsDescription,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             runs,
				Flags:              runsFlags,
			},
			{
				Name:               "daemon",
				Usage:              "run the control daemon",
				Description:        DaemonDescription,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             daemon,
				Flags:              daemonFlags,
			},
			{
				Name:               "remote",
				Aliases:            []string{"r"},
				Usage:              "control the daemon",
				Description:        RemoteDescription,
				CustomHelpTemplate: SUBCMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Flags:              []cli.Flag{socketFlag},
				Subcommands: []cli.Command{
					{
						Name:      "load",
						Usage:     "load a profile into the daemon",
						UsageText: "remote load <profile>",
						Action:    remoteLoad,
					},
					{
						Name:      "start",
						Usage:     "start the loaded or the named profile",
						UsageText: "remote start [profile] [--state N] [--watch]",
						Action:    remoteStart,
						Flags:     remoteStartFlags,
					},
					{
						Name:   "stop",
						Usage:  "stop the playlist",
						Action: remoteStop,
					},
					{
						Name:   "pause",
						Usage:  "pause the playlist",
						Action: remotePause(true),
					},
					{
						Name:   "resume",
						Usage:  "resume the playlist",
						Action: remotePause(false),
					},
					{
						Name:   "status",
						Usage:  "show the player and trigger status",
						Action: remoteStatus,
					},
					{
						Name:   "watch",
						Usage:  "show the progress of the running playlist",
						Action: remoteWatchCmd,
					},
					{
						Name:      "trigger",
						Usage:     "start triggers of the loaded or the named profile",
						UsageText: "remote trigger [profile]",
						Action:    remoteTrigger,
					},
					{
						Name:   "trigger-stop",
						Usage:  "stop triggers",
						Action: remoteTriggerStop,
					},
					{
						Name:      "schedule",
						Usage:     "schedule a run",
						UsageText: "remote schedule <profile> [--action play|trigger] (--at T | --in D | --cron EXPR)",
						Action:    remoteSchedule,
						Flags:     scheduleFlags,
					},
					{
						Name:      "unschedule",
						Usage:     "remove a schedule",
						UsageText: "remote unschedule <id>",
						Action:    remoteUnschedule,
					},
					{
						Name:   "schedules",
						Usage:  "list schedules",
						Action: remoteSchedules,
					},
				},
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of portplayer",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		Action:      common.Help,
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}

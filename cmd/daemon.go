package cmd

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	cmdcommon "github.com/portplayer/portplayer/cmd/common"
	"github.com/portplayer/portplayer/common"
	"github.com/portplayer/portplayer/internal/secret"
	"github.com/portplayer/portplayer/internal/server"
	"github.com/portplayer/portplayer/internal/session"
	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/rt"
)

var (
	socketPath string
	httpPort   int
	noHTTP     bool
	logFile    string

	socketFlag = cli.StringFlag{
		Name:        "socket",
		Usage:       "daemon Unix socket path",
		EnvVar:      common.SocketPathEnv,
		Destination: &socketPath,
	}

	daemonFlags = []cli.Flag{
		socketFlag,
		cli.IntFlag{
			Name:        "http-port",
			Usage:       "localhost port of the WebSocket endpoint",
			EnvVar:      common.HTTPPortEnv,
			Value:       common.DefaultHTTPPort,
			Destination: &httpPort,
		},
		cli.BoolFlag{
			Name:        "no-http",
			Usage:       "serve the Unix socket only",
			Destination: &noHTTP,
		},
		cli.StringFlag{
			Name:        "log-file",
			Usage:       "also log to this file, empty to log to stderr only",
			EnvVar:      common.LogFileEnv,
			Value:       common.LogFilePath(),
			Destination: &logFile,
		},
	}
)

func daemon(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	l := daemonLogger(os.Stderr, logFile)
	defer l.Close()

	st, err := openStore()
	if err != nil {
		cmdcommon.PrintRuntimeErr(ctx, "daemon", "open_store", err)
		return nil
	}
	defer st.Close()

	cfg := &server.Config{
		SocketPath: resolveSocket(),
		Version:    currentBuildArgs.Version,
		Commit:     currentBuildArgs.Commit,
		BuildType:  currentBuildArgs.BuildType,
		Session: session.Options{
			Logger:   l,
			Promoter: rt.Platform(l),
			ScriptFs: afero.NewOsFs(),
		},
	}
	if !noHTTP {
		tok, src, err := secret.Load(common.ConfigDir())
		if err != nil {
			l.Warning("WebSocket endpoint disabled: %v", err)
		} else {
			l.Info("RPC token source: %s.", src)
			cfg.Secret = tok
			cfg.HTTPAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(httpPort))
		}
	}

	sctx, cancel := setupShutdownHandler()
	defer cancel()
	s := server.NewServer(cfg, st, l)
	if err := s.Start(sctx); err != nil {
		cmdcommon.PrintRuntimeErr(ctx, "daemon", "start", err)
		return nil
	}
	if err := s.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// daemonLogger logs to w and, when path is set, to the file at path. A
// file that cannot be opened is reported on w and skipped.
func daemonLogger(w io.Writer, path string) logger.Logger {
	console := newLogger(w)
	if path == "" {
		return console
	}
	file, err := logger.OpenFile(path, common.Debug())
	if err != nil {
		console.Warning("logging to stderr only: %v", err)
		return console
	}
	return logger.NewMultiLogger(console, file)
}

func resolveSocket() string {
	if socketPath != "" {
		return socketPath
	}
	return common.SocketPath()
}

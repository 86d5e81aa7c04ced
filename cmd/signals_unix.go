//go:build !windows

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// pauseSignal toggles pause of a running play command.
var pauseSignal os.Signal = syscall.SIGUSR1

// notifyControl subscribes c to the stop and pause signals of the play and
// trigger commands. Tests replace it.
var notifyControl = func(c chan<- os.Signal) {
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, pauseSignal)
}

var stopControl = func(c chan<- os.Signal) {
	signal.Stop(c)
}

// setupShutdownHandler returns a context that is canceled on SIGTERM or
// SIGINT.
func setupShutdownHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

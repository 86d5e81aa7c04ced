//go:build windows

package cmd

import (
	"context"
	"os"
	"os/signal"
)

// pauseSignal is nil: there is no user signal to pause with.
var pauseSignal os.Signal

var notifyControl = func(c chan<- os.Signal) {
	signal.Notify(c, os.Interrupt)
}

var stopControl = func(c chan<- os.Signal) {
	signal.Stop(c)
}

func setupShutdownHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

package client

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	daemonStartTimeout = 3 * time.Second
	socketPollInterval = 50 * time.Millisecond
	socketDialTimeout  = 100 * time.Millisecond
)

var spawnDaemon = func(socket string) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	cmd := exec.Command(executable, "daemon", "--socket", socket)
	// Own process group so the daemon outlives the CLI.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = cmd.Process.Release()
	return nil
}

// EnsureDaemon starts the daemon unless something already listens on path.
func EnsureDaemon(path string) error {
	if isDaemonRunning(path) {
		return nil
	}
	if err := spawnDaemon(path); err != nil {
		return err
	}
	return waitForSocket(path, daemonStartTimeout)
}

func isDaemonRunning(path string) bool {
	conn, err := net.DialTimeout("unix", path, socketDialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func waitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if isDaemonRunning(path) {
			return nil
		}
		time.Sleep(socketPollInterval)
	}
	return fmt.Errorf("daemon failed to start within %v", timeout)
}

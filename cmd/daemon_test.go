package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/portplayer/portplayer/pkg/logger"
)

func TestDaemonLogger(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		path      string
		wantMulti bool
		wantWarn  string
	}{
		{name: "stderr only"},
		{name: "stderr and file", path: filepath.Join(dir, "logs", "daemon.log"), wantMulti: true},
		{name: "unusable file", path: filepath.Join(blocked, "daemon.log"), wantWarn: "logging to stderr only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var console bytes.Buffer
			l := daemonLogger(&console, tt.path)
			if _, ok := l.(*logger.MultiLogger); ok != tt.wantMulti {
				t.Fatalf("got %T, want MultiLogger %v", l, tt.wantMulti)
			}
			l.Info("daemon listening")
			if err := l.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			assertContains(t, console.String(), "[INFO] daemon listening")
			if tt.wantWarn != "" {
				assertContains(t, console.String(), tt.wantWarn)
			}
			if !tt.wantMulti {
				return
			}
			b, err := os.ReadFile(tt.path)
			if err != nil {
				t.Fatalf("log file: %v", err)
			}
			assertContains(t, string(b), "[INFO] daemon listening")
		})
	}
}

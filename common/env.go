// Package common holds the names and wire types shared by the portplayer
// daemon and its clients.
package common

import (
	"os"
	"path/filepath"
)

// Environment variable names for configuration.
const (
	// SocketPathEnv overrides the daemon's Unix socket path.
	SocketPathEnv = "PORTPLAYER_SOCKET_PATH"

	// RPCSecretEnv holds the bearer token for the WebSocket endpoint.
	RPCSecretEnv = "PORTPLAYER_RPC_SECRET"

	// DBEnv overrides the profile database path.
	DBEnv = "PORTPLAYER_DB"

	// DebugEnv enables debug logging.
	DebugEnv = "PORTPLAYER_DEBUG"

	// HTTPPortEnv overrides the WebSocket listener port.
	HTTPPortEnv = "PORTPLAYER_HTTP_PORT"

	// LogFileEnv overrides the daemon log file path.
	LogFileEnv = "PORTPLAYER_LOG_FILE"
)

// DefaultHTTPPort is the localhost port of the WebSocket endpoint.
const DefaultHTTPPort = 7321

// SocketPath returns the daemon socket path, honoring SocketPathEnv.
func SocketPath() string {
	if p := os.Getenv(SocketPathEnv); p != "" {
		return p
	}
	return filepath.Join(os.TempDir(), "portplayer.sock")
}

// ConfigDir returns the directory for the database and the token file.
func ConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "portplayer")
	}
	return filepath.Join(dir, "portplayer")
}

// DBPath returns the profile database path, honoring DBEnv.
func DBPath() string {
	if p := os.Getenv(DBEnv); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "portplayer.db")
}

// LogFilePath returns the default daemon log file path.
func LogFilePath() string {
	return filepath.Join(ConfigDir(), "daemon.log")
}

// Debug reports whether DebugEnv is set to a non-empty value other than "0".
func Debug() bool {
	v := os.Getenv(DebugEnv)
	return v != "" && v != "0"
}

// Package secret resolves the bearer token that guards the daemon's
// WebSocket endpoint. The token comes from the environment, then the OS
// keyring, then a 0600 file in the config directory. When none holds a
// token a new one is generated and stored in the first store that accepts
// it.
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/portplayer/portplayer/common"
)

const (
	service    = "portplayer"
	user       = "rpc"
	tokenFile  = "rpc.token"
	tokenMode  = 0600
	tokenBytes = 32
)

// ErrEmpty is returned for a stored token that is blank.
var ErrEmpty = errors.New("stored token is empty")

var (
	keyringSet = keyring.Set
	keyringGet = keyring.Get
	randRead   = rand.Read
	getenv     = os.Getenv
)

// Source tells where a token came from.
type Source string

const (
	FromEnv       Source = "env"
	FromKeyring   Source = "keyring"
	FromFile      Source = "file"
	FromGenerated Source = "generated"
)

// Load returns the daemon token and where it was found. configDir holds
// the file fallback.
func Load(configDir string) (string, Source, error) {
	if tok := strings.TrimSpace(getenv(common.RPCSecretEnv)); tok != "" {
		return tok, FromEnv, nil
	}
	if tok, err := keyringGet(service, user); err == nil && strings.TrimSpace(tok) != "" {
		return strings.TrimSpace(tok), FromKeyring, nil
	}
	if tok, err := readFile(configDir); err == nil {
		return tok, FromFile, nil
	}

	tok, err := generate()
	if err != nil {
		return "", "", err
	}
	if err := keyringSet(service, user, tok); err == nil {
		return tok, FromGenerated, nil
	}
	if err := writeFile(configDir, tok); err != nil {
		return "", "", err
	}
	return tok, FromGenerated, nil
}

func generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := randRead(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func readFile(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, tokenFile))
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrEmpty
	}
	return tok, nil
}

// writeFile replaces the token file atomically.
func writeFile(dir, tok string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".rpc.token.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(tok); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, tokenMode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, tokenFile)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename token file: %w", err)
	}
	return nil
}

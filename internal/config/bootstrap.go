// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"bytes"
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

//go:embed leash.yaml.default
var DefaultConfigYAML []byte

// ConfigDirEnv overrides the directory holding the default config file.
const ConfigDirEnv = "LEASH_CONFIG_DIR"

// ConfigDir returns $LEASH_CONFIG_DIR, or ~/.config/leash.
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", leasherr.Errorf(leasherr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "leash"), nil
}

// DefaultConfigPath returns leash.yaml inside ConfigDir.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "leash.yaml"), nil
}

// DefaultConfig returns the commented default config for a file kept in
// dir. Its SQLite database path points into dir, not the working directory.
func DefaultConfig(dir string) []byte {
	db := strconv.Quote(filepath.Join(dir, "leash.db"))
	return bytes.Replace(DefaultConfigYAML, []byte("path: leash.db"), []byte("path: "+db), 1)
}

// BootstrapConfig writes the default config to DefaultConfigPath unless a
// file is already there. It returns the path written, or the empty string
// when nothing was written; failures are logged, never returned.
func BootstrapConfig() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}
	if _, err := os.Stat(cfgPath); err == nil {
		return ""
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return ""
	}
	if err := os.WriteFile(cfgPath, DefaultConfig(dir), 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", cfgPath, "error", err)
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}

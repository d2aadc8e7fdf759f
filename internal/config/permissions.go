// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// readableByOthers are the group and world read bits.
const readableByOthers fs.FileMode = 0o044

// WarnInsecurePermissions logs a warning when the config file at path holds
// a Redis password and is readable by group or world. It reports whether
// the warning was logged. Startup is never refused.
func WarnInsecurePermissions(path string, cfg *Config) bool {
	if path == "" || cfg == nil || cfg.Storage.Redis.Password == "" {
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("could not stat config file for permission check", "path", path, "error", err)
		return false
	}

	if info.Mode().Perm()&readableByOthers == 0 {
		return false
	}
	slog.Warn("config file holding storage.redis.password is readable by other users",
		"path", path,
		"mode", info.Mode(),
		"recommended", "0600",
	)
	return true
}

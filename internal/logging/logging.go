// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package logging builds the process logger for leash binaries: a zap core
// exposed through log/slog, so library packages only ever see *slog.Logger.
package logging

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

// LevelEnv is the environment variable selecting the log level.
const LevelEnv = "LOG_LEVEL"

// New returns an slog logger backed by zap and a sync function the caller
// should defer. LOG_LEVEL=debug (or trace), or verbose, selects the
// development config at debug level; anything else the production config.
func New(verbose bool) (*slog.Logger, func(), error) {
	level := os.Getenv(LevelEnv)
	if verbose {
		level = "debug"
	}
	z, err := NewZap(level)
	if err != nil {
		return nil, nil, err
	}
	return FromZap(z), func() { _ = z.Sync() }, nil
}

// NewZap builds the zap logger for level.
func NewZap(level string) (*zap.Logger, error) {
	switch strings.ToLower(level) {
	case "debug", "trace":
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	default:
		return zap.NewProduction()
	}
}

// FromZap writes slog records straight to z's core.
func FromZap(z *zap.Logger) *slog.Logger {
	return slog.New(zapslog.NewHandler(z.Core(), zapslog.WithCaller(true)))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sigil-dev/leash/pkg/budget"
)

// Config selects and parameterizes a storage backend.
type Config struct {
	Backend string // "memory" (default), "sqlite" or "redis"

	// Path is the SQLite database file.
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// KeyPrefix namespaces every Redis key written by this backend.
	KeyPrefix string
}

// Backend hands out shared budget trackers and the audit store of one
// storage system.
type Backend interface {
	// Tracker returns the tracker for scope. Every call with the same scope
	// observes the same counters.
	Tracker(scope string) budget.Tracker
	// Audit returns the backend's audit store.
	Audit() AuditStore
	Close() error
}

// Opener opens a Backend whose trackers enforce limits.
type Opener func(cfg *Config, limits budget.Limits) (Backend, error)

var (
	openers   = map[string]Opener{}
	openersMu sync.RWMutex
)

func init() {
	RegisterBackend("memory", openMemory)
}

// RegisterBackend registers an opener for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[name] = open
}

// Backends lists the registered backend names in order.
func Backends() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()

	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveBackend returns the effective backend name, defaulting to "memory".
func resolveBackend(cfg *Config) string {
	if cfg == nil || cfg.Backend == "" {
		return "memory"
	}
	return cfg.Backend
}

// Open opens the backend named by cfg.Backend.
func Open(cfg *Config, limits budget.Limits) (Backend, error) {
	name := resolveBackend(cfg)

	openersMu.RLock()
	open, ok := openers[name]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, name)
	}

	if cfg == nil {
		cfg = &Config{}
	}
	return open(cfg, limits)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package redis shares budget counters and the audit trail between hosts
// through a Redis server. Each reservation is a single Lua script, so the
// check and the increment are atomic on the server.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/store"
)

// DefaultKeyPrefix namespaces keys when the config sets none.
const DefaultKeyPrefix = "leash:"

const (
	budgetKeyPrefix = "budget:"
	auditKey        = "audit"
)

// Compile-time interface checks.
var (
	_ store.Backend    = (*Store)(nil)
	_ store.AuditStore = (*auditStore)(nil)
	_ budget.Tracker   = (*Tracker)(nil)
	_ budget.Resetter  = (*Tracker)(nil)
	_ budget.Releaser  = (*Tracker)(nil)
)

func init() {
	store.RegisterBackend("redis", openBackend)
}

// Store is a store.Backend backed by one Redis database.
type Store struct {
	client    *goredis.Client
	keyPrefix string
	limits    budget.Limits
	audit     *auditStore
}

// Open connects to the server at cfg.RedisAddr and verifies it answers.
// Commands are traced through the global OpenTelemetry tracer provider.
func Open(cfg *store.Config, limits budget.Limits) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrumenting redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}

	return NewFromClient(client, cfg.KeyPrefix, limits), nil
}

// NewFromClient wraps an existing client. An empty keyPrefix selects
// DefaultKeyPrefix.
func NewFromClient(client *goredis.Client, keyPrefix string, limits budget.Limits) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{
		client:    client,
		keyPrefix: keyPrefix,
		limits:    limits,
		audit:     &auditStore{client: client, key: keyPrefix + auditKey},
	}
}

func openBackend(cfg *store.Config, limits budget.Limits) (store.Backend, error) {
	s, err := Open(cfg, limits)
	if err != nil {
		return nil, leasherr.Wrap(err, leasherr.CodeStoreDatabaseFailure, "opening redis backend", leasherr.FieldBackend("redis"))
	}
	return s, nil
}

// Tracker returns the tracker for scope, stored under <prefix>budget:<scope>.
func (s *Store) Tracker(scope string) budget.Tracker {
	return &Tracker{
		client: s.client,
		key:    s.keyPrefix + budgetKeyPrefix + scope,
		scope:  scope,
		limits: s.limits,
	}
}

// Audit returns the audit list store.
func (s *Store) Audit() store.AuditStore { return s.audit }

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package sqlite persists budget counters and the audit trail in a single
// SQLite database, so several processes on one host can share a budget.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/leash/pkg/budget"
	"github.com/sigil-dev/leash/pkg/store"
)

// Compile-time interface checks.
var (
	_ store.Backend    = (*Store)(nil)
	_ store.AuditStore = (*auditStore)(nil)
	_ budget.Tracker   = (*Tracker)(nil)
	_ budget.Resetter  = (*Tracker)(nil)
	_ budget.Releaser  = (*Tracker)(nil)
)

// dsnOptions enables WAL, waits on a locked database instead of failing,
// and makes every transaction take the write lock up front.
const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"

// Store is a store.Backend backed by one SQLite database file.
type Store struct {
	db     *sql.DB
	limits budget.Limits
	audit  *auditStore
}

// Open opens (or creates) the database at dbPath and initialises the
// budget_ledger and audit_log tables. Trackers handed out by the Store
// enforce limits.
func Open(dbPath string, limits budget.Limits) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("opening leash db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging leash db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating leash db: %w", err)
	}

	return &Store{
		db:     db,
		limits: limits,
		audit:  &auditStore{db: db},
	}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS budget_ledger (
	scope      TEXT PRIMARY KEY,
	calls      INTEGER NOT NULL DEFAULT 0,
	units      INTEGER NOT NULL DEFAULT 0,
	overflow   INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id            TEXT PRIMARY KEY,
	timestamp     TEXT NOT NULL,
	tool          TEXT NOT NULL DEFAULT '',
	invocation_id TEXT NOT NULL DEFAULT '',
	scope         TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL DEFAULT '',
	reason        TEXT NOT NULL DEFAULT '',
	units         INTEGER NOT NULL DEFAULT 0,
	details       TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_tool      ON audit_log(tool);
CREATE INDEX IF NOT EXISTS idx_audit_log_outcome   ON audit_log(outcome);
`
	_, err := db.Exec(ddl)
	return err
}

// Tracker returns the ledger tracker for scope.
func (s *Store) Tracker(scope string) budget.Tracker {
	return &Tracker{db: s.db, scope: scope, limits: s.limits}
}

// Audit returns the audit_log store.
func (s *Store) Audit() store.AuditStore { return s.audit }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// formatTime serialises a time.Time for storage as an RFC 3339 string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

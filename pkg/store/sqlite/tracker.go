// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

// Tracker is a budget.Tracker whose counters live in one budget_ledger row.
// Every reservation runs in its own immediate transaction, so concurrent
// reservations from any number of connections or processes serialize.
type Tracker struct {
	db     *sql.DB
	scope  string
	limits budget.Limits
}

// Scope returns the ledger row this tracker charges.
func (t *Tracker) Scope() string { return t.scope }

func (t *Tracker) Limits() budget.Limits { return t.limits }

func (t *Tracker) Reserve(ctx context.Context, r budget.Reservation) (budget.Usage, error) {
	if err := r.Validate(); err != nil {
		return budget.Usage{}, err
	}
	return t.update(ctx, "reservation", func(cur budget.Usage) (budget.Usage, error) {
		return budget.Apply(t.limits, cur, r)
	})
}

// Release hands back r in its own immediate transaction.
func (t *Tracker) Release(ctx context.Context, r budget.Reservation) (budget.Usage, error) {
	if err := r.Validate(); err != nil {
		return budget.Usage{}, err
	}
	return t.update(ctx, "release", func(cur budget.Usage) (budget.Usage, error) {
		return budget.Unapply(cur, r)
	})
}

// update reads the ledger row, applies fn and writes the result back in one
// transaction. When fn fails the row is left untouched and the current usage
// is returned with fn's error.
func (t *Tracker) update(ctx context.Context, op string, fn func(budget.Usage) (budget.Usage, error)) (budget.Usage, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return budget.Usage{}, t.dbErr(err, "beginning "+op)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	cur, err := readUsage(ctx, tx, t.scope)
	if err != nil {
		return budget.Usage{}, t.dbErr(err, "reading ledger")
	}

	next, err := fn(cur)
	if err != nil {
		return cur, err
	}

	const q = `INSERT INTO budget_ledger (scope, calls, units, overflow, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(scope) DO UPDATE SET
	calls = excluded.calls,
	units = excluded.units,
	overflow = excluded.overflow,
	updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, q, t.scope, next.Calls, next.Units, next.Overflow, formatTime(time.Now())); err != nil {
		return cur, t.dbErr(err, "writing ledger")
	}
	if err := tx.Commit(); err != nil {
		return cur, t.dbErr(err, "committing "+op)
	}
	return next, nil
}

func (t *Tracker) Usage(ctx context.Context) (budget.Usage, error) {
	u, err := readUsage(ctx, t.db, t.scope)
	if err != nil {
		return budget.Usage{}, t.dbErr(err, "reading ledger")
	}
	return u, nil
}

// Reset deletes the scope's ledger row.
func (t *Tracker) Reset(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM budget_ledger WHERE scope = ?`, t.scope); err != nil {
		return t.dbErr(err, "resetting ledger")
	}
	return nil
}

func (t *Tracker) dbErr(err error, msg string) error {
	return leasherr.Wrap(err, leasherr.CodeStoreDatabaseFailure, msg,
		leasherr.FieldScope(t.scope), leasherr.FieldBackend("sqlite"))
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readUsage(ctx context.Context, q queryer, scope string) (budget.Usage, error) {
	var u budget.Usage
	err := q.QueryRowContext(ctx,
		`SELECT calls, units, overflow FROM budget_ledger WHERE scope = ?`, scope,
	).Scan(&u.Calls, &u.Units, &u.Overflow)
	if errors.Is(err, sql.ErrNoRows) {
		return budget.Usage{}, nil
	}
	if err != nil {
		return budget.Usage{}, fmt.Errorf("scanning ledger row %q: %w", scope, err)
	}
	return u, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package store defines the persistence contracts behind leash: the audit
// trail of invocation decisions and the factory that opens shared budget
// trackers for a configured backend.
package store

import (
	"context"
	"time"
)

// Outcome is the decision recorded for one wrapped invocation.
type Outcome string

const (
	// OutcomeAdmitted is written before execution in audit fail-closed mode
	// and for preflight checks that pass.
	OutcomeAdmitted       Outcome = "admitted"
	OutcomeCompleted      Outcome = "completed"
	OutcomeFailed         Outcome = "failed"
	OutcomeBlocked        Outcome = "blocked"
	OutcomeBudgetExceeded Outcome = "budget_exceeded"
)

// AuditEntry records one invocation decision.
type AuditEntry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Tool         string         `json:"tool"`
	InvocationID string         `json:"invocation_id"`
	Scope        string         `json:"scope,omitempty"`
	Outcome      Outcome        `json:"outcome"`
	Reason       string         `json:"reason,omitempty"`
	Units        int64          `json:"units"`
	Details      map[string]any `json:"details,omitempty"`
}

// AuditFilter specifies criteria for querying audit entries.
type AuditFilter struct {
	Tool    string
	Outcome Outcome
	Scope   string
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}

// AuditStore is an append-only log of invocation decisions.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

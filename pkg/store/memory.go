// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"sync"

	"github.com/sigil-dev/leash/pkg/budget"
)

// defaultQueryLimit caps Query results when the filter sets no limit.
const defaultQueryLimit = 1000

type memoryBackend struct {
	budgets *budget.Scoped
	audit   *MemoryAuditStore
}

func openMemory(_ *Config, limits budget.Limits) (Backend, error) {
	return &memoryBackend{
		budgets: budget.NewScoped(budget.InMemory(limits)),
		audit:   NewMemoryAuditStore(),
	}, nil
}

func (m *memoryBackend) Tracker(scope string) budget.Tracker { return m.budgets.Get(scope) }
func (m *memoryBackend) Audit() AuditStore                   { return m.audit }
func (m *memoryBackend) Close() error                        { return nil }

var _ AuditStore = (*MemoryAuditStore)(nil)

// MemoryAuditStore keeps audit entries in process memory.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

// NewMemoryAuditStore returns an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, entry *AuditEntry) error {
	if entry == nil {
		return ErrInvalidInput
	}
	cp := *entry
	s.mu.Lock()
	s.entries = append(s.entries, &cp)
	s.mu.Unlock()
	return nil
}

func (s *MemoryAuditStore) Query(_ context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*AuditEntry
	skipped := 0
	for _, e := range s.entries {
		if !filter.Matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Matches reports whether e satisfies every criterion set in f. Limit and
// Offset are not considered.
func (f AuditFilter) Matches(e *AuditEntry) bool {
	switch {
	case f.Tool != "" && e.Tool != f.Tool:
		return false
	case f.Outcome != "" && e.Outcome != f.Outcome:
		return false
	case f.Scope != "" && e.Scope != f.Scope:
		return false
	case !f.From.IsZero() && e.Timestamp.Before(f.From):
		return false
	case !f.To.IsZero() && !e.Timestamp.Before(f.To):
		return false
	}
	return true
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sigil-dev/leash/pkg/store"
)

const defaultQueryLimit = 1000

// auditStore appends JSON-encoded entries to a Redis list.
type auditStore struct {
	client *goredis.Client
	key    string
}

// auditRecord is the stored form of store.AuditEntry.
type auditRecord struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Tool         string         `json:"tool"`
	InvocationID string         `json:"invocation_id,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	Outcome      string         `json:"outcome"`
	Reason       string         `json:"reason,omitempty"`
	Units        int64          `json:"units,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

func (s *auditStore) Append(ctx context.Context, entry *store.AuditEntry) error {
	if entry == nil {
		return store.ErrInvalidInput
	}

	b, err := json.Marshal(auditRecord{
		ID:           entry.ID,
		Timestamp:    entry.Timestamp.UTC(),
		Tool:         entry.Tool,
		InvocationID: entry.InvocationID,
		Scope:        entry.Scope,
		Outcome:      string(entry.Outcome),
		Reason:       entry.Reason,
		Units:        entry.Units,
		Details:      entry.Details,
	})
	if err != nil {
		return fmt.Errorf("marshalling audit entry %s: %w", entry.ID, err)
	}

	if err := s.client.RPush(ctx, s.key, b).Err(); err != nil {
		return fmt.Errorf("appending audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// Query scans the list in append order.
func (s *auditStore) Query(ctx context.Context, filter store.AuditFilter) ([]*store.AuditEntry, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var entries []*store.AuditEntry
	skipped := 0
	for _, item := range raw {
		var rec auditRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("unmarshalling audit entry: %w", err)
		}
		e := &store.AuditEntry{
			ID:           rec.ID,
			Timestamp:    rec.Timestamp,
			Tool:         rec.Tool,
			InvocationID: rec.InvocationID,
			Scope:        rec.Scope,
			Outcome:      store.Outcome(rec.Outcome),
			Reason:       rec.Reason,
			Units:        rec.Units,
			Details:      rec.Details,
		}
		if !filter.Matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		entries = append(entries, e)
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

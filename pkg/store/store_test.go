// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/leash/pkg/budget"
	"github.com/sigil-dev/leash/pkg/store"
)

func TestOpen_DefaultsToMemory(t *testing.T) {
	ctx := context.Background()
	b, err := store.Open(nil, budget.Limits{Calls: budget.Max(1)})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	_, err = b.Tracker("a").Reserve(ctx, budget.Call(1))
	require.NoError(t, err)
	_, err = b.Tracker("a").Reserve(ctx, budget.Call(1))
	assert.Error(t, err)

	_, err = b.Tracker("b").Reserve(ctx, budget.Call(1))
	assert.NoError(t, err)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := store.Open(&store.Config{Backend: "etcd"}, budget.Limits{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnsupportedBackend)
	assert.Contains(t, err.Error(), "etcd")
}

func TestBackends_IncludesMemory(t *testing.T) {
	assert.Contains(t, store.Backends(), "memory")
}

func TestMemoryAuditStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryAuditStore()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Append(ctx, &store.AuditEntry{ID: "1", Timestamp: base, Tool: "a", Outcome: store.OutcomeCompleted}))
	require.NoError(t, s.Append(ctx, &store.AuditEntry{ID: "2", Timestamp: base.Add(time.Hour), Tool: "b", Outcome: store.OutcomeBlocked}))
	require.NoError(t, s.Append(ctx, &store.AuditEntry{ID: "3", Timestamp: base.Add(2 * time.Hour), Tool: "a", Outcome: store.OutcomeFailed}))
	assert.ErrorIs(t, s.Append(ctx, nil), store.ErrInvalidInput)

	tests := []struct {
		name   string
		filter store.AuditFilter
		want   []string
	}{
		{"all", store.AuditFilter{}, []string{"1", "2", "3"}},
		{"by tool", store.AuditFilter{Tool: "a"}, []string{"1", "3"}},
		{"by outcome", store.AuditFilter{Outcome: store.OutcomeBlocked}, []string{"2"}},
		{"time range", store.AuditFilter{From: base.Add(time.Minute), To: base.Add(2 * time.Hour)}, []string{"2"}},
		{"paged", store.AuditFilter{Limit: 1, Offset: 2}, []string{"3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package budget_test

import (
	"context"
	"sync"
	"testing"

	"github.com/sigil-dev/leash/pkg/budget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoped_IsolatesScopes(t *testing.T) {
	ctx := context.Background()
	s := budget.NewScoped(budget.InMemory(budget.Limits{Calls: budget.Max(1)}))

	_, err := s.Get("turn-1").Reserve(ctx, budget.Call(1))
	require.NoError(t, err)
	_, err = s.Get("turn-1").Reserve(ctx, budget.Call(1))
	assert.Error(t, err)

	_, err = s.Get("turn-2").Reserve(ctx, budget.Call(1))
	assert.NoError(t, err)

	assert.Equal(t, []string{"turn-1", "turn-2"}, s.Scopes())
}

func TestScoped_DropStartsFresh(t *testing.T) {
	ctx := context.Background()
	s := budget.NewScoped(budget.InMemory(budget.Limits{Calls: budget.Max(1)}))

	_, err := s.Get("a").Reserve(ctx, budget.Call(1))
	require.NoError(t, err)
	s.Drop("a")
	assert.Empty(t, s.Scopes())

	_, err = s.Get("a").Reserve(ctx, budget.Call(1))
	assert.NoError(t, err)
}

func TestScoped_ConcurrentGetSharesTracker(t *testing.T) {
	s := budget.NewScoped(budget.InMemory(budget.Limits{}))

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got = map[budget.Tracker]struct{}{}
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := s.Get("shared")
			mu.Lock()
			got[tr] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, got, 1)
}

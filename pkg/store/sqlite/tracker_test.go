// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/store/sqlite"
)

func TestTracker_ReserveWithinLimits(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "reserve", budget.Limits{Calls: budget.Max(2), Units: budget.Max(100)})
	tr := s.Tracker("session-1")

	u, err := tr.Reserve(ctx, budget.Call(40))
	require.NoError(t, err)
	assert.Equal(t, budget.Usage{Calls: 1, Units: 40}, u)

	u, err = tr.Reserve(ctx, budget.Call(60))
	require.NoError(t, err)
	assert.Equal(t, budget.Usage{Calls: 2, Units: 100}, u)

	_, err = tr.Reserve(ctx, budget.Call(0))
	require.Error(t, err)
	exceeded, ok := leasherr.AsBudgetExceeded(err)
	require.True(t, ok)
	assert.Equal(t, leasherr.DimensionCalls, exceeded.Dimension)
	assert.Equal(t, int64(2), exceeded.CallsUsed)

	got, err := tr.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, budget.Usage{Calls: 2, Units: 100}, got, "rejected reservation must not change the ledger")
}

func TestTracker_UnitsRejectedWithoutPartialIncrement(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "units", budget.Limits{Units: budget.Max(10)})
	tr := s.Tracker("a")

	_, err := tr.Reserve(ctx, budget.Call(8))
	require.NoError(t, err)

	_, err = tr.Reserve(ctx, budget.Call(5))
	exceeded, ok := leasherr.AsBudgetExceeded(err)
	require.True(t, ok)
	assert.Equal(t, leasherr.DimensionUnits, exceeded.Dimension)

	u, err := tr.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Calls)
	assert.Equal(t, int64(8), u.Units)
}

func TestTracker_SaturateRecordsOverflow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "saturate", budget.Limits{Units: budget.Max(10)})
	tr := s.Tracker("a")

	u, err := tr.Reserve(ctx, budget.Reservation{Units: 15, Mode: budget.ModeSaturate})
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.Units)
	assert.Equal(t, int64(5), u.Overflow)
}

func TestTracker_ScopesAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "scopes", budget.Limits{Calls: budget.Max(1)})

	_, err := s.Tracker("a").Reserve(ctx, budget.Call(1))
	require.NoError(t, err)
	_, err = s.Tracker("b").Reserve(ctx, budget.Call(1))
	require.NoError(t, err)
	_, err = s.Tracker("a").Reserve(ctx, budget.Call(1))
	assert.True(t, leasherr.IsBudgetExceeded(err))
}

func TestTracker_SharedAcrossConnections(t *testing.T) {
	ctx := context.Background()
	path := testDBPath(t, "shared")
	limits := budget.Limits{Calls: budget.Max(3)}

	first, err := sqlite.Open(path, limits)
	require.NoError(t, err)
	defer func() { _ = first.Close() }()
	second, err := sqlite.Open(path, limits)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	_, err = first.Tracker("x").Reserve(ctx, budget.Call(1))
	require.NoError(t, err)
	_, err = second.Tracker("x").Reserve(ctx, budget.Call(1))
	require.NoError(t, err)

	u, err := first.Tracker("x").Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Calls)
}

func TestTracker_ConcurrentReservations(t *testing.T) {
	ctx := context.Background()
	const maxCalls = 5
	s := openTestStore(t, "concurrent", budget.Limits{Calls: budget.Max(maxCalls)})
	tr := s.Tracker("hot")

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		exceeded  atomic.Int64
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Reserve(ctx, budget.Call(1))
			switch {
			case err == nil:
				succeeded.Add(1)
			case leasherr.IsBudgetExceeded(err):
				exceeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(maxCalls), succeeded.Load())
	assert.Equal(t, int64(16-maxCalls), exceeded.Load())
}

func TestTracker_Reset(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "reset", budget.Limits{Calls: budget.Max(1)})
	tr := s.Tracker("a")

	_, err := tr.Reserve(ctx, budget.Call(3))
	require.NoError(t, err)

	r, ok := tr.(budget.Resetter)
	require.True(t, ok)
	require.NoError(t, r.Reset(ctx))

	u, err := tr.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, budget.Usage{}, u)
}

func TestTracker_ReleaseReturnsUnits(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "release", budget.Limits{Units: budget.Max(10)})
	tr := s.Tracker("a")
	rel, ok := tr.(budget.Releaser)
	require.True(t, ok)

	_, err := tr.Reserve(ctx, budget.Call(9))
	require.NoError(t, err)

	u, err := rel.Release(ctx, budget.Units(4))
	require.NoError(t, err)
	assert.Equal(t, budget.Usage{Calls: 1, Units: 5}, u)

	u, err = rel.Release(ctx, budget.Units(50))
	require.NoError(t, err)
	assert.Equal(t, budget.Usage{Calls: 1}, u, "counters never go negative")

	got, err := tr.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = rel.Release(ctx, budget.Reservation{Units: -1})
	assert.True(t, leasherr.IsInvalidInput(err))
}

func TestTracker_NegativeReservation(t *testing.T) {
	s := openTestStore(t, "negative", budget.Limits{})
	_, err := s.Tracker("a").Reserve(context.Background(), budget.Reservation{Units: -1})
	assert.True(t, leasherr.HasCode(err, leasherr.CodeBudgetReservationInvalid))
}

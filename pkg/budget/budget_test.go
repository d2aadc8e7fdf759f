// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package budget_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_UnlimitedByDefault(t *testing.T) {
	b := budget.New()
	for range 1000 {
		require.NoError(t, b.CheckAndReserve(1_000_000))
	}

	_, limited := b.RemainingCalls()
	assert.False(t, limited)
	_, limited = b.RemainingUnits()
	assert.False(t, limited)
	assert.Equal(t, int64(1000), b.Snapshot().Calls)
}

func TestBudget_CallCeiling(t *testing.T) {
	const n = 5
	b := budget.New(budget.WithMaxCalls(n))

	for i := range n {
		require.NoError(t, b.CheckAndReserve(1), "call %d", i+1)
	}

	err := b.CheckAndReserve(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, leasherr.ErrBudgetExceeded)

	be, ok := leasherr.AsBudgetExceeded(err)
	require.True(t, ok)
	assert.Equal(t, leasherr.DimensionCalls, be.Dimension)
	assert.Equal(t, int64(n), be.CallsUsed)
	assert.Equal(t, int64(n), be.Limit)

	assert.Equal(t, int64(n), b.Snapshot().Calls)
	remaining, limited := b.RemainingCalls()
	assert.True(t, limited)
	assert.Equal(t, int64(0), remaining)
}

func TestBudget_ZeroCallsRejectsFirstCall(t *testing.T) {
	b := budget.New(budget.WithMaxCalls(0))
	err := b.CheckAndReserve(1)
	assert.ErrorIs(t, err, leasherr.ErrBudgetExceeded)
	assert.Equal(t, budget.Usage{}, b.Snapshot())
}

func TestBudget_UnitCeilingNoPartialIncrement(t *testing.T) {
	b := budget.New(budget.WithMaxCalls(10), budget.WithMaxUnits(100))
	require.NoError(t, b.CheckAndReserve(60))

	err := b.CheckAndReserve(41)
	be, ok := leasherr.AsBudgetExceeded(err)
	require.True(t, ok)
	assert.Equal(t, leasherr.DimensionUnits, be.Dimension)
	assert.Equal(t, int64(41), be.Requested)
	assert.Equal(t, int64(60), be.UnitsUsed)
	assert.Equal(t, int64(1), be.CallsUsed)

	// Neither counter moved.
	assert.Equal(t, budget.Usage{Calls: 1, Units: 60}, b.Snapshot())

	require.NoError(t, b.CheckAndReserve(40))
	remaining, _ := b.RemainingUnits()
	assert.Equal(t, int64(0), remaining)
}

func TestBudget_CallsCheckedBeforeUnits(t *testing.T) {
	b := budget.New(budget.WithMaxCalls(1), budget.WithMaxUnits(1))
	require.NoError(t, b.CheckAndReserve(1))

	be, ok := leasherr.AsBudgetExceeded(b.CheckAndReserve(5))
	require.True(t, ok)
	assert.Equal(t, leasherr.DimensionCalls, be.Dimension)
}

func TestBudget_SaturateClampsAndRecordsOverflow(t *testing.T) {
	ctx := context.Background()
	b := budget.New(budget.WithMaxUnits(10))
	require.NoError(t, b.CheckAndReserve(4))

	u, err := b.Reserve(ctx, budget.Reservation{Units: 9, Mode: budget.ModeSaturate})
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.Units)
	assert.Equal(t, int64(3), u.Overflow)

	// The next strict reservation of any positive amount fails.
	assert.ErrorIs(t, b.CheckAndReserve(1), leasherr.ErrBudgetExceeded)
}

func TestBudget_NegativeReservationRejected(t *testing.T) {
	b := budget.New()
	_, err := b.Reserve(context.Background(), budget.Reservation{Units: -1})
	require.Error(t, err)
	assert.True(t, leasherr.IsInvalidInput(err))
	assert.Equal(t, budget.Usage{}, b.Snapshot())
}

func TestBudget_Reset(t *testing.T) {
	b := budget.New(budget.WithMaxCalls(1))
	require.NoError(t, b.CheckAndReserve(3))
	require.NoError(t, b.Reset(context.Background()))
	assert.Equal(t, budget.Usage{}, b.Snapshot())
	assert.NoError(t, b.CheckAndReserve(3))
}

func TestBudget_ReleaseReopensHeadroom(t *testing.T) {
	ctx := context.Background()
	b := budget.New(budget.WithMaxUnits(10))
	_, err := b.Reserve(ctx, budget.Units(8))
	require.NoError(t, err)
	_, err = b.Reserve(ctx, budget.Units(4))
	require.ErrorIs(t, err, leasherr.ErrBudgetExceeded)

	u, err := b.Release(ctx, budget.Units(8))
	require.NoError(t, err)
	assert.Equal(t, budget.Usage{}, u)
	_, err = b.Reserve(ctx, budget.Units(4))
	assert.NoError(t, err)
}

func TestUnapply(t *testing.T) {
	tests := []struct {
		name string
		u    budget.Usage
		r    budget.Reservation
		want budget.Usage
	}{
		{"units only", budget.Usage{Calls: 2, Units: 9}, budget.Units(4), budget.Usage{Calls: 2, Units: 5}},
		{"clamped at zero", budget.Usage{Calls: 1, Units: 3}, budget.Call(5), budget.Usage{Units: 0}},
		{"overflow kept", budget.Usage{Units: 10, Overflow: 6}, budget.Units(2), budget.Usage{Units: 8, Overflow: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := budget.Unapply(tt.u, tt.r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := budget.Unapply(budget.Usage{Units: 1}, budget.Reservation{Units: -1})
	assert.True(t, leasherr.IsInvalidInput(err))
}

func TestBudget_ConcurrentReservationsNeverOvershoot(t *testing.T) {
	const (
		callers  = 64
		maxCalls = 17
	)
	b := budget.New(budget.WithMaxCalls(maxCalls))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		start     = make(chan struct{})
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if b.CheckAndReserve(1) == nil {
				succeeded.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(maxCalls), succeeded.Load())
	assert.Equal(t, int64(maxCalls), b.Snapshot().Calls)
}

func TestHeadroomOf(t *testing.T) {
	ctx := context.Background()
	b := budget.New(budget.WithMaxUnits(50))
	require.NoError(t, b.CheckAndReserve(20))

	h, err := budget.HeadroomOf(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, budget.Headroom{Units: 30, UnitsLimited: true}, h)
}

func TestMaxClampsNegative(t *testing.T) {
	assert.Equal(t, budget.Ceiling{Max: 0, Set: true}, budget.Max(-3))
	assert.True(t, budget.Unlimited.Allows(1<<62, 1<<60))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package leash_test

import (
	"context"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/estimate"
	"github.com/sigil-dev/leash/pkg/guard"
	"github.com/sigil-dev/leash/pkg/leash"
)

func seqOf(items ...any) iter.Seq[any] {
	return slices.Values(items)
}

// joinLines consumes the "lines" argument and returns how many items it saw.
func joinLines(_ context.Context, args leash.Args) (any, error) {
	n := 0
	switch lines := args["lines"].(type) {
	case iter.Seq[any]:
		for range lines {
			n++
		}
	case <-chan any:
		for range lines {
			n++
		}
	}
	return n, nil
}

func TestInputSeq_ItemsAreGuarded(t *testing.T) {
	g := guard.New(guard.WithRules(guard.Rule{Argument: "lines", Forbidden: []string{"rm -rf"}}))
	b := budget.New()
	tool := leash.New(leash.WithGuard(g), leash.WithBudget(b)).WrapFunc("batch", joinLines)

	out, err := tool(context.Background(), leash.Args{"lines": seqOf("ls", "rm -rf /", "pwd")})
	assert.Nil(t, out, "the violation replaces the tool's result")
	blocked, ok := leasherr.AsBlocked(err)
	require.True(t, ok)
	assert.Equal(t, "lines", blocked.Argument)
	assert.Equal(t, "batch", blocked.ToolName)
	assert.Equal(t, int64(1), b.Snapshot().Calls)
}

func TestInputSeq_ItemsAreCharged(t *testing.T) {
	b := budget.New()
	tool := leash.New(leash.WithBudget(b)).WrapFunc("batch", joinLines)

	out, err := tool(context.Background(), leash.Args{"lines": seqOf(chunk, chunk)})
	require.NoError(t, err)
	assert.Equal(t, 2, out)
	// Empty static args, two input items and the integer output.
	assert.Equal(t, int64(emptyArgsUnits+2*chunkUnits+1), b.Snapshot().Units)
}

func TestInputSeq_BudgetStopsInput(t *testing.T) {
	b := budget.New(budget.WithMaxUnits(emptyArgsUnits + chunkUnits))
	tool := leash.New(leash.WithBudget(b)).WrapFunc("batch", joinLines)

	_, err := tool(context.Background(), leash.Args{"lines": seqOf(chunk, chunk, chunk)})
	exceeded, ok := leasherr.AsBudgetExceeded(err)
	require.True(t, ok)
	assert.Equal(t, "batch", exceeded.ToolName)
	assert.Equal(t, int64(emptyArgsUnits+chunkUnits), b.Snapshot().Units)
}

func TestInputChan_ItemsAreGuarded(t *testing.T) {
	g := guard.New(guard.WithRules(guard.Rule{Argument: "lines", Forbidden: []string{"DROP"}}))
	tool := leash.New(leash.WithGuard(g)).WrapFunc("batch", joinLines)

	src := make(chan any, 3)
	src <- "SELECT 1"
	src <- "DROP TABLE users"
	src <- "SELECT 2"
	close(src)

	_, err := tool(context.Background(), leash.Args{"lines": (<-chan any)(src)})
	assert.True(t, leasherr.IsBlocked(err))
}

func TestInputChan_Completes(t *testing.T) {
	tool := leash.New().WrapFunc("batch", joinLines)

	src := make(chan any, 2)
	src <- "a"
	src <- "b"
	close(src)

	out, err := tool(context.Background(), leash.Args{"lines": (<-chan any)(src)})
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

// signalingBudget reports every successful units-only reservation.
type signalingBudget struct {
	*budget.Budget
	items chan struct{}
}

func (s *signalingBudget) Reserve(ctx context.Context, r budget.Reservation) (budget.Usage, error) {
	u, err := s.Budget.Reserve(ctx, r)
	if err == nil && r.Calls == 0 && r.Mode == budget.ModeStrict {
		s.items <- struct{}{}
	}
	return u, err
}

func TestInputChan_UndeliveredItemIsReleased(t *testing.T) {
	b := &signalingBudget{Budget: budget.New(), items: make(chan struct{}, 8)}
	tool := leash.New(leash.WithBudget(b)).WrapFunc("head", func(_ context.Context, args leash.Args) (any, error) {
		first := <-args["lines"].(<-chan any)
		// Return only once the proxy holds a reservation for the second item.
		<-b.items
		<-b.items
		return first, nil
	})

	src := make(chan any, 3)
	src <- chunk
	src <- chunk
	src <- chunk
	close(src)

	out, err := tool(context.Background(), leash.Args{"lines": (<-chan any)(src)})
	require.NoError(t, err)
	assert.Equal(t, chunk, out)

	want := int64(emptyArgsUnits + chunkUnits + estimate.Estimate(chunk))
	require.Eventually(t, func() bool { return b.Snapshot().Units == want },
		5*time.Second, 10*time.Millisecond, "the second item was never handed to the tool")
}

func TestInputStreamsSkipStaticGuard(t *testing.T) {
	g := guard.New(guard.WithValidator(func(_ context.Context, _ string, args guard.Args) error {
		if _, ok := args["lines"]; ok {
			return leasherr.New(leasherr.CodeLeashGuardBlocked, "static view must not contain streams")
		}
		return nil
	}))
	tool := leash.New(leash.WithGuard(g)).WrapFunc("batch", func(context.Context, leash.Args) (any, error) {
		return "ok", nil
	})

	// The tool never consumes the stream, so only the static view is checked.
	out, err := tool(context.Background(), leash.Args{"lines": seqOf("x")})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

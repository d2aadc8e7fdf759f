// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockedErrorHierarchy(t *testing.T) {
	cause := stderrors.New("path escapes workspace")
	err := error(&leasherr.BlockedError{ToolName: "read_file", Reason: cause.Error(), Err: cause})

	assert.ErrorIs(t, err, leasherr.ErrLeash)
	assert.ErrorIs(t, err, leasherr.ErrBlocked)
	assert.NotErrorIs(t, err, leasherr.ErrBudgetExceeded)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, leasherr.CodeLeashGuardBlocked, leasherr.CodeOf(err))
	assert.Equal(t, `tool "read_file" blocked: path escapes workspace`, err.Error())
}

func TestBlockedErrorFields(t *testing.T) {
	err := &leasherr.BlockedError{ToolName: "shell", Reason: "restricted", Argument: "cmd", Substring: "rm -rf"}

	fields := leasherr.FieldsOf(err)
	assert.Equal(t, "shell", fields["tool"])
	assert.Equal(t, "cmd", fields["argument"])
	assert.Equal(t, "rm -rf", fields["substring"])

	noArg := leasherr.FieldsOf(&leasherr.BlockedError{ToolName: "shell", Reason: "custom"})
	assert.NotContains(t, noArg, "argument")
}

func TestBudgetExceededErrorHierarchy(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", &leasherr.BudgetExceededError{
		ToolName:  "search",
		Dimension: leasherr.DimensionCalls,
		Limit:     3,
		Requested: 1,
		CallsUsed: 3,
	})

	assert.ErrorIs(t, err, leasherr.ErrLeash)
	assert.ErrorIs(t, err, leasherr.ErrBudgetExceeded)
	assert.NotErrorIs(t, err, leasherr.ErrBlocked)
	assert.Equal(t, leasherr.CodeLeashBudgetCallsExceeded, leasherr.CodeOf(err))
	assert.Contains(t, err.Error(), `tool "search" calls budget exceeded: 3/3 calls used, 1 requested`)

	be, ok := leasherr.AsBudgetExceeded(err)
	require.True(t, ok)
	assert.Equal(t, leasherr.DimensionCalls, be.Dimension)
	assert.Equal(t, int64(3), be.CallsUsed)
}

func TestBudgetExceededUnitsCode(t *testing.T) {
	err := &leasherr.BudgetExceededError{Dimension: leasherr.DimensionUnits, Limit: 10, Requested: 4, UnitsUsed: 8}

	assert.Equal(t, leasherr.CodeLeashBudgetUnitsExceeded, leasherr.CodeOf(err))
	assert.Equal(t, "units budget exceeded: 8/10 units used, 4 requested", err.Error())
	assert.Equal(t, int64(8), leasherr.FieldsOf(err)["units_used"])
}

func TestSentinelsShareRoot(t *testing.T) {
	assert.ErrorIs(t, leasherr.ErrBlocked, leasherr.ErrLeash)
	assert.ErrorIs(t, leasherr.ErrBudgetExceeded, leasherr.ErrLeash)
}

func TestAsHelpersOnUnrelatedError(t *testing.T) {
	_, ok := leasherr.AsBlocked(stderrors.New("x"))
	assert.False(t, ok)
	_, ok = leasherr.AsBudgetExceeded(nil)
	assert.False(t, ok)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinels for the leash condition hierarchy. Every typed leash error
// matches ErrLeash with errors.Is, plus its own specific sentinel.
var (
	ErrLeash          = stderrors.New("leash violation")
	ErrBlocked        = fmt.Errorf("%w: call blocked", ErrLeash)
	ErrBudgetExceeded = fmt.Errorf("%w: budget exceeded", ErrLeash)
)

// Dimension names the budget counter that was exhausted.
type Dimension string

const (
	DimensionCalls Dimension = "calls"
	DimensionUnits Dimension = "units"
)

// BlockedError reports a call or input item rejected by the call guard.
// It is raised before any budget is consumed and must not be retried.
type BlockedError struct {
	ToolName string
	Reason   string

	// Argument and Substring are set when a restricted-argument rule matched.
	Argument  string
	Substring string

	// Err is the validator error that caused the block, if any.
	Err error
}

func (e *BlockedError) Error() string {
	tool := e.ToolName
	if tool == "" {
		tool = "<unnamed>"
	}
	return fmt.Sprintf("tool %q blocked: %s", tool, e.Reason)
}

func (e *BlockedError) Unwrap() error { return e.Err }

func (e *BlockedError) Is(target error) bool {
	return target == ErrLeash || target == ErrBlocked
}

func (e *BlockedError) Code() Code { return CodeLeashGuardBlocked }

func (e *BlockedError) Fields() map[string]any {
	f := map[string]any{
		"tool":   e.ToolName,
		"reason": e.Reason,
	}
	if e.Argument != "" {
		f["argument"] = e.Argument
		f["substring"] = e.Substring
	}
	return f
}

// BudgetExceededError reports a reservation that would push a counter past
// its ceiling. CallsUsed and UnitsUsed are the counters observed at the
// moment of rejection; nothing was committed.
type BudgetExceededError struct {
	ToolName  string
	Dimension Dimension
	Limit     int64
	Requested int64
	CallsUsed int64
	UnitsUsed int64
}

func (e *BudgetExceededError) Error() string {
	used := e.CallsUsed
	if e.Dimension == DimensionUnits {
		used = e.UnitsUsed
	}
	msg := fmt.Sprintf("%s budget exceeded: %d/%d %s used, %d requested", e.Dimension, used, e.Limit, e.Dimension, e.Requested)
	if e.ToolName != "" {
		return fmt.Sprintf("tool %q %s", e.ToolName, msg)
	}
	return msg
}

func (e *BudgetExceededError) Is(target error) bool {
	return target == ErrLeash || target == ErrBudgetExceeded
}

func (e *BudgetExceededError) Code() Code {
	if e.Dimension == DimensionCalls {
		return CodeLeashBudgetCallsExceeded
	}
	return CodeLeashBudgetUnitsExceeded
}

func (e *BudgetExceededError) Fields() map[string]any {
	return map[string]any{
		"tool":       e.ToolName,
		"dimension":  string(e.Dimension),
		"limit":      e.Limit,
		"requested":  e.Requested,
		"calls_used": e.CallsUsed,
		"units_used": e.UnitsUsed,
	}
}

// AsBlocked returns the first BlockedError in err's chain.
func AsBlocked(err error) (*BlockedError, bool) {
	var b *BlockedError
	if stderrors.As(err, &b) {
		return b, true
	}
	return nil, false
}

// AsBudgetExceeded returns the first BudgetExceededError in err's chain.
func AsBudgetExceeded(err error) (*BudgetExceededError, bool) {
	var b *BudgetExceededError
	if stderrors.As(err, &b) {
		return b, true
	}
	return nil, false
}

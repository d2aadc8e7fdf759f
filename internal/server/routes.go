// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/store"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "check-call",
		Method:      http.MethodPost,
		Path:        "/api/v1/check",
		Summary:     "Check a tool call against the guard, optionally charging its budget",
		Tags:        []string{"guard"},
	}, s.handleCheck)

	huma.Register(s.api, huma.Operation{
		OperationID: "estimate-value",
		Method:      http.MethodPost,
		Path:        "/api/v1/estimate",
		Summary:     "Estimate the unit cost of a value",
		Tags:        []string{"budget"},
	}, s.handleEstimate)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-budget",
		Method:      http.MethodGet,
		Path:        "/api/v1/budget",
		Summary:     "Get usage and limits of a budget scope",
		Tags:        []string{"budget"},
	}, s.handleGetBudget)

	huma.Register(s.api, huma.Operation{
		OperationID: "reserve-budget",
		Method:      http.MethodPost,
		Path:        "/api/v1/budget/reserve",
		Summary:     "Reserve calls and units in a budget scope",
		Tags:        []string{"budget"},
	}, s.handleReserve)

	huma.Register(s.api, huma.Operation{
		OperationID: "reset-budget",
		Method:      http.MethodPost,
		Path:        "/api/v1/budget/reset",
		Summary:     "Zero the counters of a budget scope",
		Tags:        []string{"budget"},
	}, s.handleReset)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/api/v1/audit",
		Summary:     "Query the decision audit trail",
		Tags:        []string{"audit"},
	}, s.handleListAudit)
}

// --- Request/Response types for huma ---

// Decision is the outcome of a check.
type Decision struct {
	Allowed bool `json:"allowed"`
	// Outcome is "allowed", "blocked" or "budget_exceeded".
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Argument  string `json:"argument,omitempty"`
	Substring string `json:"substring,omitempty"`
	Units     int64  `json:"units" doc:"Estimated input units of the call"`
	Usage     *Usage `json:"usage,omitempty" doc:"Scope usage after charging, when charge was requested"`
}

// Usage is a budget scope's state.
type Usage struct {
	Scope    string `json:"scope"`
	Calls    int64  `json:"calls"`
	Units    int64  `json:"units"`
	Overflow int64  `json:"overflow"`
	MaxCalls *int64 `json:"max_calls,omitempty" doc:"Absent when calls are unlimited"`
	MaxUnits *int64 `json:"max_units,omitempty" doc:"Absent when units are unlimited"`
}

type checkInput struct {
	Body struct {
		Tool   string         `json:"tool" minLength:"1" doc:"Tool name"`
		Args   map[string]any `json:"args,omitempty" doc:"Call arguments"`
		Charge bool           `json:"charge,omitempty" doc:"Reserve one call and the input units when allowed"`
		Scope  string         `json:"scope,omitempty" doc:"Budget scope to charge"`
	}
}

type checkOutput struct {
	Body Decision
}

type estimateInput struct {
	Body struct {
		Value any `json:"value" doc:"Any JSON value"`
	}
}

type estimateOutput struct {
	Body struct {
		Units int64 `json:"units"`
		Bytes int64 `json:"bytes"`
	}
}

type scopeInput struct {
	Scope string `query:"scope" doc:"Budget scope; the server default when empty"`
}

type usageOutput struct {
	Body Usage
}

type reserveInput struct {
	Body struct {
		Scope string `json:"scope,omitempty"`
		Calls int64  `json:"calls,omitempty" minimum:"0"`
		Units int64  `json:"units,omitempty" minimum:"0"`
		Mode  string `json:"mode,omitempty" enum:"strict,saturate" doc:"Defaults to strict"`
	}
}

type listAuditInput struct {
	Tool    string    `query:"tool"`
	Outcome string    `query:"outcome"`
	Scope   string    `query:"scope"`
	From    time.Time `query:"from"`
	To      time.Time `query:"to"`
	Limit   int       `query:"limit" minimum:"0" maximum:"1000"`
	Offset  int       `query:"offset" minimum:"0"`
}

type listAuditOutput struct {
	Body struct {
		Entries []*store.AuditEntry `json:"entries"`
	}
}

// --- Handlers ---

func (s *Server) handleCheck(ctx context.Context, input *checkInput) (*checkOutput, error) {
	tool, args := input.Body.Tool, input.Body.Args
	svc := s.services

	if v, ok := svc.schemas[tool]; ok {
		if err := v.Validate(args); err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
	}

	scope := svc.scope(input.Body.Scope)
	tracker := svc.budgets.Tracker(scope)
	units, err := svc.leash(scope, tracker).Preflight(ctx, tool, args, input.Body.Charge)

	out := &checkOutput{}
	out.Body.Units = units
	if blocked, ok := leasherr.AsBlocked(err); ok {
		out.Body.Outcome = string(store.OutcomeBlocked)
		out.Body.Reason = blocked.Reason
		out.Body.Argument = blocked.Argument
		out.Body.Substring = blocked.Substring
		return out, nil
	}
	if exceeded, ok := leasherr.AsBudgetExceeded(err); ok {
		out.Body.Outcome = string(store.OutcomeBudgetExceeded)
		out.Body.Reason = exceeded.Error()
		return out, nil
	}
	if err != nil {
		if leasherr.HasCode(err, leasherr.CodeBudgetBackendFailure) {
			return nil, budgetError(err)
		}
		slog.Error("guard evaluation failed", "tool", tool, "error", err)
		return nil, huma.Error500InternalServerError("guard evaluation failed")
	}

	if input.Body.Charge {
		u, err := tracker.Usage(ctx)
		if err != nil {
			return nil, budgetError(err)
		}
		out.Body.Usage = usageOf(scope, u, tracker.Limits())
	}

	out.Body.Allowed = true
	out.Body.Outcome = "allowed"
	return out, nil
}

func (s *Server) handleEstimate(_ context.Context, input *estimateInput) (*estimateOutput, error) {
	out := &estimateOutput{}
	out.Body.Units = s.services.estimator.Estimate(input.Body.Value)
	out.Body.Bytes = s.services.estimator.Bytes(input.Body.Value)
	return out, nil
}

func (s *Server) handleGetBudget(ctx context.Context, input *scopeInput) (*usageOutput, error) {
	scope := s.services.scope(input.Scope)
	tracker := s.services.budgets.Tracker(scope)
	u, err := tracker.Usage(ctx)
	if err != nil {
		return nil, budgetError(err)
	}
	return &usageOutput{Body: *usageOf(scope, u, tracker.Limits())}, nil
}

func (s *Server) handleReserve(ctx context.Context, input *reserveInput) (*usageOutput, error) {
	r := budget.Reservation{Calls: input.Body.Calls, Units: input.Body.Units}
	if input.Body.Mode == "saturate" {
		r.Mode = budget.ModeSaturate
	}

	scope := s.services.scope(input.Body.Scope)
	tracker := s.services.budgets.Tracker(scope)
	u, err := tracker.Reserve(ctx, r)
	if err != nil {
		return nil, budgetError(err)
	}
	return &usageOutput{Body: *usageOf(scope, u, tracker.Limits())}, nil
}

func (s *Server) handleReset(ctx context.Context, input *scopeInput) (*usageOutput, error) {
	scope := s.services.scope(input.Scope)
	tracker := s.services.budgets.Tracker(scope)
	resetter, ok := tracker.(budget.Resetter)
	if !ok {
		return nil, huma.Error501NotImplemented("budget backend cannot reset counters")
	}
	if err := resetter.Reset(ctx); err != nil {
		return nil, budgetError(err)
	}
	return &usageOutput{Body: *usageOf(scope, budget.Usage{}, tracker.Limits())}, nil
}

func (s *Server) handleListAudit(ctx context.Context, input *listAuditInput) (*listAuditOutput, error) {
	if s.services.audit == nil {
		return nil, huma.Error503ServiceUnavailable("audit trail not enabled")
	}
	entries, err := s.services.audit.Query(ctx, store.AuditFilter{
		Tool:    input.Tool,
		Outcome: store.Outcome(input.Outcome),
		Scope:   input.Scope,
		From:    input.From,
		To:      input.To,
		Limit:   input.Limit,
		Offset:  input.Offset,
	})
	if err != nil {
		slog.Error("querying audit trail", "error", err)
		return nil, huma.Error500InternalServerError("querying audit trail")
	}
	out := &listAuditOutput{}
	out.Body.Entries = entries
	if out.Body.Entries == nil {
		out.Body.Entries = []*store.AuditEntry{}
	}
	return out, nil
}

// budgetError maps a tracker error to an HTTP error.
func budgetError(err error) error {
	status := leasherr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("budget backend failure", "error", err)
		return huma.Error500InternalServerError("budget backend failure")
	}
	return huma.NewError(status, err.Error())
}

func usageOf(scope string, u budget.Usage, l budget.Limits) *Usage {
	out := &Usage{Scope: scope, Calls: u.Calls, Units: u.Units, Overflow: u.Overflow}
	if l.Calls.Set {
		out.MaxCalls = &l.Calls.Max
	}
	if l.Units.Set {
		out.MaxUnits = &l.Units.Max
	}
	return out
}

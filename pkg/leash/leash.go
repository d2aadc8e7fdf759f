// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package leash wraps tool callables so every invocation is checked by a
// guard and charged against a shared budget before it runs.
//
// Four callable shapes are supported: Func (sync one-shot), AsyncFunc
// (async one-shot), StreamFunc (sync stream) and ChanStreamFunc (async
// stream). Each invocation moves through the same states whatever its shape:
//
//	PENDING -> GUARD_CHECKED -> BUDGET_RESERVED -> EXECUTING -> COMPLETED | FAILED
//
// A blocked call never touches the budget. A call whose input does not fit
// the budget never runs. One-shot outputs are charged after execution;
// stream items are charged before they are delivered.
package leash

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/estimate"
	"github.com/sigil-dev/leash/pkg/guard"
	"github.com/sigil-dev/leash/pkg/store"
)

// TracerName is the instrumentation scope of invocation spans.
const TracerName = "github.com/sigil-dev/leash"

// Args is the argument mapping of one tool call.
type Args = guard.Args

// Result is the single value delivered by an AsyncFunc.
type Result struct {
	Value any
	Err   error
}

// Func is a synchronous one-shot tool.
type Func func(ctx context.Context, args Args) (any, error)

// AsyncFunc is an asynchronous one-shot tool. The returned channel delivers
// exactly one Result.
type AsyncFunc func(ctx context.Context, args Args) <-chan Result

// StreamFunc is a synchronous streaming tool. A non-nil error element is a
// tool failure and is passed through to the consumer.
type StreamFunc func(ctx context.Context, args Args) iter.Seq2[any, error]

// ChanStreamFunc is an asynchronous streaming tool. The producer closes the
// item channel when done and sends at most one error before closing the
// error channel. It must stop producing once ctx is cancelled.
type ChanStreamFunc func(ctx context.Context, args Args) (<-chan any, <-chan error)

// OutputPolicy decides what happens when a one-shot output does not fit
// the remaining unit budget. The tool has already run at that point.
type OutputPolicy int

const (
	// OutputSaturate returns the value and clamps the unit counter at its
	// ceiling, so the next call is rejected.
	OutputSaturate OutputPolicy = iota
	// OutputStrict returns the value together with a BudgetExceededError
	// and leaves the counters unchanged.
	OutputStrict
)

func (p OutputPolicy) String() string {
	if p == OutputStrict {
		return "strict"
	}
	return "saturate"
}

// ParseOutputPolicy parses "saturate" or "strict". The empty string is
// OutputSaturate.
func ParseOutputPolicy(s string) (OutputPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "saturate":
		return OutputSaturate, nil
	case "strict":
		return OutputStrict, nil
	default:
		return OutputSaturate, leasherr.Errorf(leasherr.CodeConfigValidateInvalidValue,
			"output policy must be %q or %q, got %q", "saturate", "strict", s)
	}
}

// Option configures a Leash.
type Option func(*Leash)

// WithBudget charges every invocation to t. Without a budget nothing is
// counted.
func WithBudget(t budget.Tracker) Option {
	return func(l *Leash) { l.tracker = t }
}

// WithGuard checks every invocation's arguments with g.
func WithGuard(g *guard.Guard) Option {
	return func(l *Leash) { l.guard = g }
}

// WithEstimator replaces the default estimator.
func WithEstimator(e *estimate.Estimator) Option {
	return func(l *Leash) {
		if e != nil {
			l.estimator = e
		}
	}
}

// WithOutputPolicy sets how over-budget one-shot outputs are handled.
func WithOutputPolicy(p OutputPolicy) Option {
	return func(l *Leash) { l.outputPolicy = p }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Leash) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records invocation counters and durations in m.
func WithMetrics(m *Metrics) Option {
	return func(l *Leash) { l.metrics = m }
}

// WithTracerProvider creates invocation spans from tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Leash) {
		if tp != nil {
			l.tracer = tp.Tracer(TracerName)
		}
	}
}

// WithAudit records every decision in a. Appends are best-effort unless
// WithAuditFailClosed is set.
func WithAudit(a store.AuditStore) Option {
	return func(l *Leash) { l.audit = a }
}

// WithAuditFailClosed writes an "admitted" audit record after the guard
// passes and before the budget is charged. When that write fails the
// invocation fails with a leash.audit.failure error and the tool never runs.
func WithAuditFailClosed(failClosed bool) Option {
	return func(l *Leash) { l.auditFailClosed = failClosed }
}

// WithScope labels audit records with scope, typically the session or turn
// the budget belongs to.
func WithScope(scope string) Option {
	return func(l *Leash) { l.scope = scope }
}

// Leash wraps tools. One Leash may wrap any number of tools and serve
// concurrent invocations; all of them share its budget.
type Leash struct {
	tracker         budget.Tracker
	guard           *guard.Guard
	estimator       *estimate.Estimator
	outputPolicy    OutputPolicy
	logger          *slog.Logger
	metrics         *Metrics
	tracer          trace.Tracer
	audit           store.AuditStore
	auditFailClosed bool
	scope           string
	auditFails      auditFailures
}

// New returns a Leash. With no options it allows and counts nothing.
func New(opts ...Option) *Leash {
	l := &Leash{
		estimator: estimate.New(),
		logger:    slog.Default(),
		tracer:    otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.auditFailClosed && l.audit == nil {
		l.logger.Warn("audit fail-closed mode requested without an audit store; ignoring")
		l.auditFailClosed = false
	}
	return l
}

// Budget returns the tracker invocations are charged to, or nil.
func (l *Leash) Budget() budget.Tracker { return l.tracker }

// Guard returns the guard, or nil.
func (l *Leash) Guard() *guard.Guard { return l.guard }

// Estimator returns the estimator used for charging.
func (l *Leash) Estimator() *estimate.Estimator { return l.estimator }

// OutputPolicy returns the one-shot output policy.
func (l *Leash) OutputPolicy() OutputPolicy { return l.outputPolicy }

type invocationKey struct{}

// InvocationID returns the ID of the invocation ctx belongs to. Wrapped
// tools receive a context carrying it.
func InvocationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(invocationKey{}).(string)
	return id, ok
}

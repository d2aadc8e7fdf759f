// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package leash

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/store"
)

// AuditLogEscalationThreshold is the number of consecutive audit append
// failures after which the log level escalates from Warn to Error.
const AuditLogEscalationThreshold = 3

// invocation is the state of one call through a wrapped tool, shared by all
// four shape adapters.
type invocation struct {
	l      *Leash
	tool   string
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	start  time.Time
	units  atomic.Int64

	mu        sync.Mutex
	violation error

	finished atomic.Bool
}

// begin runs the pre-execution half of the state machine: guard, optional
// fail-closed admission record, input estimate and strict reservation of one
// call. On error the invocation is already finished and the returned error
// is what the caller must report. On success args has its input streams
// replaced by guarded proxies.
//
// A ctx that is already done is reported as FAILED before anything is
// evaluated or charged.
func (l *Leash) begin(ctx context.Context, tool string, args Args) (*invocation, Args, error) {
	inv := l.newInvocation(ctx, tool)

	if err := ctx.Err(); err != nil {
		return nil, nil, inv.finish(store.OutcomeFailed, err)
	}

	static, streams := splitInputs(args)

	if err := l.guard.Evaluate(inv.ctx, tool, static); err != nil {
		return nil, nil, inv.finish(store.OutcomeBlocked, err)
	}

	if l.auditFailClosed {
		if err := l.appendAudit(inv.ctx, inv.entry(store.OutcomeAdmitted, nil)); err != nil {
			return nil, nil, inv.finish(store.OutcomeFailed,
				leasherr.Wrap(err, leasherr.CodeLeashAuditFailure, "audit log failure on admitted call (fail-closed mode)",
					leasherr.FieldTool(tool), leasherr.FieldInvocationID(inv.id)))
		}
	}

	if l.tracker != nil {
		units := l.estimator.Estimate(static)
		if _, err := l.tracker.Reserve(inv.ctx, budget.Call(units)); err != nil {
			err = withTool(tool, err)
			return nil, nil, inv.finish(outcomeOf(err), err)
		}
		inv.charged(phaseInput, units)
	}

	if len(streams) > 0 {
		args = inv.proxyInputs(args, streams)
	}
	return inv, args, nil
}

func (l *Leash) newInvocation(ctx context.Context, tool string) *invocation {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithValue(ctx, invocationKey{}, id))
	ctx, span := l.tracer.Start(ctx, "leash.invoke",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("leash.tool", tool),
			attribute.String("leash.invocation_id", id),
		),
	)
	return &invocation{
		l:      l,
		tool:   tool,
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		span:   span,
		start:  time.Now(),
	}
}

// chargeOutput charges a one-shot output after execution under the
// configured OutputPolicy.
func (inv *invocation) chargeOutput(out any) error {
	l := inv.l
	if l.tracker == nil {
		return nil
	}

	units := l.estimator.Estimate(out)
	mode := budget.ModeSaturate
	if l.outputPolicy == OutputStrict {
		mode = budget.ModeStrict
	}

	u, err := l.tracker.Reserve(inv.ctx, budget.Reservation{Units: units, Mode: mode})
	if err != nil {
		return withTool(inv.tool, err)
	}
	inv.charged(phaseOutput, units)

	if limit := l.tracker.Limits().Units; mode == budget.ModeSaturate && limit.Set && u.Units >= limit.Max {
		l.logger.Warn("tool output exhausted unit budget",
			"tool", inv.tool,
			"invocation_id", inv.id,
			"output_units", units,
			"units_used", u.Units,
			"max_units", limit.Max,
			"overflow", u.Overflow,
		)
	}
	return nil
}

// chargeItem strictly charges one streamed item that is handed over
// synchronously once this returns.
func (inv *invocation) chargeItem(phase string, item any) error {
	units, err := inv.reserveItem(item)
	if err != nil {
		return err
	}
	inv.charged(phase, units)
	return nil
}

// reserveItem strictly reserves one streamed item's units ahead of a
// delivery that may not happen. The caller follows up with charged once the
// item is delivered or with release when it is not.
func (inv *invocation) reserveItem(item any) (int64, error) {
	l := inv.l
	if l.tracker == nil {
		return 0, nil
	}
	units := l.estimator.Estimate(item)
	if _, err := l.tracker.Reserve(inv.ctx, budget.Units(units)); err != nil {
		return 0, withTool(inv.tool, err)
	}
	return units, nil
}

// release hands back the units reserved for an item that was never
// delivered. Trackers without budget.Releaser keep them.
func (inv *invocation) release(units int64) {
	l := inv.l
	if l.tracker == nil || units == 0 {
		return
	}
	r, ok := l.tracker.(budget.Releaser)
	if !ok {
		l.logger.Warn("budget backend cannot release an undelivered item",
			"tool", inv.tool, "invocation_id", inv.id, "units", units)
		return
	}
	if _, err := r.Release(context.WithoutCancel(inv.ctx), budget.Units(units)); err != nil {
		l.logger.Warn("releasing undelivered item",
			"tool", inv.tool, "invocation_id", inv.id, "units", units, "error", err)
	}
}

func (inv *invocation) charged(phase string, units int64) {
	inv.units.Add(units)
	if m := inv.l.metrics; m != nil {
		m.UnitsCharged.WithLabelValues(inv.tool, phase).Add(float64(units))
	}
}

// setViolation records the first input-stream violation.
func (inv *invocation) setViolation(err error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.violation == nil {
		inv.violation = err
	}
}

// inputViolation returns the first input-stream violation, if any.
func (inv *invocation) inputViolation() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.violation
}

// recoverPanic finishes the invocation as FAILED when the tool panicked and
// then panics again with the same value. It must be deferred directly.
func (inv *invocation) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	inv.finish(store.OutcomeFailed, leasherr.New(leasherr.CodeLeashToolPanic,
		fmt.Sprintf("tool panicked: %v", r), leasherr.FieldTool(inv.tool), leasherr.FieldInvocationID(inv.id)))
	panic(r)
}

// complete finishes the invocation as COMPLETED.
func (inv *invocation) complete() {
	inv.finish(store.OutcomeCompleted, nil)
}

// fail finishes the invocation with the outcome err implies and returns err.
func (inv *invocation) fail(err error) error {
	return inv.finish(outcomeOf(err), err)
}

// finish records the terminal state exactly once: span, metrics, log line
// and audit record. It then cancels the invocation context, stopping input
// proxies and upstream streams. It returns err unchanged.
func (inv *invocation) finish(outcome store.Outcome, err error) error {
	if !inv.finished.CompareAndSwap(false, true) {
		return err
	}
	defer inv.cancel()
	l := inv.l
	elapsed := time.Since(inv.start)
	units := inv.units.Load()

	inv.span.SetAttributes(
		attribute.String("leash.outcome", string(outcome)),
		attribute.Int64("leash.units", units),
	)
	if err != nil {
		inv.span.RecordError(err)
		inv.span.SetStatus(codes.Error, err.Error())
	} else {
		inv.span.SetStatus(codes.Ok, "")
	}
	inv.span.End()

	if m := l.metrics; m != nil {
		m.Invocations.WithLabelValues(inv.tool, string(outcome)).Inc()
		m.Duration.WithLabelValues(inv.tool).Observe(elapsed.Seconds())
	}

	attrs := []any{
		"tool", inv.tool,
		"invocation_id", inv.id,
		"outcome", string(outcome),
		"units", units,
		"duration", elapsed,
	}
	switch outcome {
	case store.OutcomeBlocked, store.OutcomeBudgetExceeded:
		l.logger.Warn("tool invocation rejected", append(attrs, "error", err)...)
	case store.OutcomeFailed:
		l.logger.Debug("tool invocation failed", append(attrs, "error", err)...)
	default:
		l.logger.Debug("tool invocation completed", attrs...)
	}

	if l.audit != nil {
		// The call already has its outcome; a failed append only escalates logging.
		_ = l.appendAudit(context.WithoutCancel(inv.ctx), inv.entry(outcome, err))
	}
	return err
}

func (inv *invocation) entry(outcome store.Outcome, err error) *store.AuditEntry {
	e := &store.AuditEntry{
		ID:           fmt.Sprintf("aud-%s-%s", inv.id, outcome),
		Timestamp:    time.Now(),
		Tool:         inv.tool,
		InvocationID: inv.id,
		Scope:        inv.l.scope,
		Outcome:      outcome,
		Units:        inv.units.Load(),
	}
	if err != nil {
		e.Reason = err.Error()
		if fields := leasherr.FieldsOf(err); len(fields) > 0 {
			e.Details = fields
		}
	}
	return e
}

// auditFailures counts consecutive audit append failures.
type auditFailures struct {
	consecutive atomic.Int64
}

// appendAudit writes e, logging failures at Warn and escalating to Error
// after AuditLogEscalationThreshold consecutive failures.
func (l *Leash) appendAudit(ctx context.Context, e *store.AuditEntry) error {
	err := l.audit.Append(ctx, e)
	if err == nil {
		l.auditFails.consecutive.Store(0)
		return nil
	}

	consecutive := l.auditFails.consecutive.Add(1)
	attrs := []any{
		"tool", e.Tool,
		"invocation_id", e.InvocationID,
		"outcome", string(e.Outcome),
		"error", err,
		"consecutive_failures", consecutive,
	}
	if consecutive >= AuditLogEscalationThreshold {
		l.logger.Error("audit log failure (persistent)", attrs...)
	} else {
		l.logger.Warn("audit log failure (best-effort)", attrs...)
	}
	return err
}

// AuditFailCount returns the current number of consecutive audit append
// failures.
func (l *Leash) AuditFailCount() int64 {
	return l.auditFails.consecutive.Load()
}

func outcomeOf(err error) store.Outcome {
	switch {
	case err == nil:
		return store.OutcomeCompleted
	case errors.Is(err, leasherr.ErrBlocked):
		return store.OutcomeBlocked
	case errors.Is(err, leasherr.ErrBudgetExceeded):
		return store.OutcomeBudgetExceeded
	default:
		return store.OutcomeFailed
	}
}

// withTool fills in the tool name of a budget error raised by a tracker.
func withTool(tool string, err error) error {
	var exceeded *leasherr.BudgetExceededError
	if errors.As(err, &exceeded) && exceeded.ToolName == "" {
		named := *exceeded
		named.ToolName = tool
		return &named
	}
	return err
}

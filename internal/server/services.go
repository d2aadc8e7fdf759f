// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sigil-dev/leash/internal/boundary"
	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/estimate"
	"github.com/sigil-dev/leash/pkg/guard"
	"github.com/sigil-dev/leash/pkg/leash"
	"github.com/sigil-dev/leash/pkg/store"
)

// BudgetSource hands out the shared tracker of a scope. store.Backend
// satisfies it.
type BudgetSource interface {
	Tracker(scope string) budget.Tracker
}

// Services holds the dependencies injected into route handlers.
// Use NewServices to ensure all required services are provided.
type Services struct {
	guard        *guard.Guard
	estimator    *estimate.Estimator
	budgets      BudgetSource
	defaultScope string
	audit        store.AuditStore // optional; nil = no check records, audit endpoint unavailable
	schemas      map[string]*boundary.Validator
	gatherer     prometheus.Gatherer // optional; nil = no /metrics
	metrics      *leash.Metrics
}

// ServicesOption configures optional services.
type ServicesOption func(*Services)

// WithAudit records every check in a and enables the audit query endpoint.
func WithAudit(a store.AuditStore) ServicesOption {
	return func(s *Services) { s.audit = a }
}

// WithSchema validates the arguments of tool against v before the guard
// sees them.
func WithSchema(tool string, v *boundary.Validator) ServicesOption {
	return func(s *Services) { s.schemas[tool] = v }
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) ServicesOption {
	return func(s *Services) { s.gatherer = g }
}

// WithMetrics counts checks in m.
func WithMetrics(m *leash.Metrics) ServicesOption {
	return func(s *Services) { s.metrics = m }
}

// WithDefaultScope sets the scope used when a request names none.
func WithDefaultScope(scope string) ServicesOption {
	return func(s *Services) {
		if scope != "" {
			s.defaultScope = scope
		}
	}
}

// NewServices creates a Services instance. The guard may be nil, in which
// case every check passes.
func NewServices(g *guard.Guard, est *estimate.Estimator, budgets BudgetSource, opts ...ServicesOption) (*Services, error) {
	if est == nil {
		return nil, leasherr.New(leasherr.CodeServerConfigInvalid, "estimator is required")
	}
	if budgets == nil {
		return nil, leasherr.New(leasherr.CodeServerConfigInvalid, "budget source is required")
	}
	s := &Services{
		guard:        g,
		estimator:    est,
		budgets:      budgets,
		defaultScope: "default",
		schemas:      make(map[string]*boundary.Validator),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Services) scope(requested string) string {
	if requested == "" {
		return s.defaultScope
	}
	return requested
}

// leash builds the dispatcher a check of scope runs through.
func (s *Services) leash(scope string, tracker budget.Tracker) *leash.Leash {
	opts := []leash.Option{
		leash.WithGuard(s.guard),
		leash.WithEstimator(s.estimator),
		leash.WithBudget(tracker),
		leash.WithScope(scope),
	}
	if s.audit != nil {
		opts = append(opts, leash.WithAudit(s.audit))
	}
	if s.metrics != nil {
		opts = append(opts, leash.WithMetrics(s.metrics))
	}
	return leash.New(opts...)
}

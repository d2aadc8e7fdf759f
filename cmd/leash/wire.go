// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sigil-dev/leash/internal/config"
	"github.com/sigil-dev/leash/internal/telemetry"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/estimate"
	"github.com/sigil-dev/leash/pkg/guard"
	"github.com/sigil-dev/leash/pkg/leash"
	"github.com/sigil-dev/leash/pkg/store"
	_ "github.com/sigil-dev/leash/pkg/store/redis"  // register redis backend
	_ "github.com/sigil-dev/leash/pkg/store/sqlite" // register sqlite backend
)

// runtime holds every wired subsystem of one CLI invocation.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	backend   store.Backend
	guard     *guard.Guard
	estimator *estimate.Estimator
	policy    leash.OutputPolicy
	registry  *prometheus.Registry
	metrics   *leash.Metrics
	tracer    *sdktrace.TracerProvider
}

// wire builds the runtime from the resolved configuration. The caller must
// Close it.
func (a *app) wire() (*runtime, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}

	g, err := cfg.Guard.NewGuard()
	if err != nil {
		return nil, err
	}
	policy, err := leash.ParseOutputPolicy(cfg.OutputPolicy)
	if err != nil {
		return nil, err
	}

	// The tracer provider is installed globally before the backend opens so
	// backend clients pick it up.
	tp, err := telemetry.NewTracerProvider(context.Background(), cfg.Telemetry.Tracing(version))
	if err != nil {
		return nil, err
	}

	backend, err := store.Open(cfg.Storage.StoreConfig(), cfg.Budget.Limits())
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, leasherr.Wrap(err, leasherr.CodeCLISetupFailure, "opening storage backend",
			leasherr.FieldBackend(cfg.Storage.Backend))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt := &runtime{
		cfg:       cfg,
		logger:    a.logger,
		backend:   backend,
		guard:     g,
		estimator: cfg.Estimator.NewEstimator(),
		policy:    policy,
		registry:  reg,
		metrics:   leash.NewMetrics(reg),
		tracer:    tp,
	}
	a.logger.Debug("runtime wired",
		"backend", cfg.Storage.Backend,
		"scope", cfg.Budget.Scope,
		"rules", len(g.Rules()),
		"output_policy", policy.String(),
		"audit", cfg.Audit.Enabled,
		"otlp_endpoint", cfg.Telemetry.Endpoint)
	return rt, nil
}

// scope returns name, or the configured default scope when name is empty.
func (rt *runtime) scope(name string) string {
	if name == "" {
		return rt.cfg.Budget.Scope
	}
	return name
}

// audit returns the backend's audit store, or nil when auditing is off.
func (rt *runtime) audit() store.AuditStore {
	if !rt.cfg.Audit.Enabled {
		return nil
	}
	return rt.backend.Audit()
}

// leash builds a dispatcher charging the shared tracker of scope.
func (rt *runtime) leash(scope string) *leash.Leash {
	scope = rt.scope(scope)
	opts := []leash.Option{
		leash.WithGuard(rt.guard),
		leash.WithEstimator(rt.estimator),
		leash.WithBudget(rt.backend.Tracker(scope)),
		leash.WithOutputPolicy(rt.policy),
		leash.WithLogger(rt.logger),
		leash.WithMetrics(rt.metrics),
		leash.WithTracerProvider(rt.tracer),
		leash.WithScope(scope),
	}
	if a := rt.audit(); a != nil {
		opts = append(opts,
			leash.WithAudit(a),
			leash.WithAuditFailClosed(rt.cfg.Audit.FailClosed))
	}
	return leash.New(opts...)
}

// Close releases the storage backend and flushes the tracer.
func (rt *runtime) Close() error {
	var errs []error
	if err := rt.tracer.Shutdown(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := rt.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return leasherr.Join(errs...)
}

// withRuntime wires a runtime, runs fn and closes the runtime.
func (a *app) withRuntime(fn func(rt *runtime) error) (err error) {
	rt, err := a.wire()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}

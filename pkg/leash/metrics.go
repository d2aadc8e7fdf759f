// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package leash

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric label names.
const (
	labelTool    = "tool"
	labelOutcome = "outcome"
	labelPhase   = "phase"
)

// Charge phases.
const (
	phaseInput     = "input"
	phaseOutput    = "output"
	phaseItem      = "item"
	phaseInputItem = "input_item"
)

// Metrics holds the Prometheus collectors updated by a Leash.
type Metrics struct {
	// Invocations counts finished invocations by tool and outcome.
	Invocations *prometheus.CounterVec
	// UnitsCharged counts units charged by tool and phase (input, output,
	// item, input_item).
	UnitsCharged *prometheus.CounterVec
	// Duration tracks invocation wall time by tool.
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leash_invocations_total",
				Help: "Total number of wrapped tool invocations by outcome",
			},
			[]string{labelTool, labelOutcome},
		),
		UnitsCharged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leash_units_charged_total",
				Help: "Total consumption units charged to the budget",
			},
			[]string{labelTool, labelPhase},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leash_invocation_duration_seconds",
				Help:    "Duration of wrapped tool invocations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{labelTool},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Invocations, m.UnitsCharged, m.Duration)
	}
	return m
}

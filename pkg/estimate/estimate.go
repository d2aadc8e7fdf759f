// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package estimate measures the consumption cost of arbitrary Go values
// without serializing them.
//
// The cost model mirrors the length of a compact JSON rendering of the value
// (quotes, separators, keys) and converts it to units at roughly four bytes
// per unit. Traversal is depth-limited and cycle-safe: a subtree beyond the
// depth limit, a value already on the traversal stack, and values with no
// meaningful textual form (channels, funcs) each cost FallbackBytes.
package estimate

import (
	"reflect"
)

const (
	// DefaultDepthLimit is the nesting depth at which traversal stops.
	// The root value is at depth 1.
	DefaultDepthLimit = 10

	// FallbackBytes is the fixed byte cost charged in place of a subtree that
	// is not descended into.
	FallbackBytes = 16

	bytesPerUnit = 4
)

// Counter converts a textual leaf into units. It must return a non-negative
// count; a negative result or a panic falls back to the byte heuristic for
// that leaf.
type Counter func(text string) int

// Option configures an Estimator.
type Option func(*Estimator)

// WithDepthLimit sets the maximum traversal depth. Values below 1 are ignored.
func WithDepthLimit(limit int) Option {
	return func(e *Estimator) {
		if limit > 0 {
			e.depthLimit = limit
		}
	}
}

// WithCounter replaces the byte heuristic for textual leaves.
func WithCounter(c Counter) Option {
	return func(e *Estimator) {
		e.counter = c
	}
}

// Estimator is safe for concurrent use. Each Estimate call owns its
// traversal state.
type Estimator struct {
	depthLimit int
	counter    Counter
}

// New returns an Estimator with the given options applied.
func New(opts ...Option) *Estimator {
	e := &Estimator{depthLimit: DefaultDepthLimit}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEstimator = New()

// Estimate measures v with the default configuration.
func Estimate(v any) int64 {
	return defaultEstimator.Estimate(v)
}

// DepthLimit reports the configured traversal depth.
func (e *Estimator) DepthLimit() int {
	return e.depthLimit
}

// Estimate returns the unit cost of v. The result is always at least 1.
func (e *Estimator) Estimate(v any) (units int64) {
	s := &sizeSink{counter: e.counter}
	defer func() {
		// User code (LeashAttributes, MarshalText) runs during traversal.
		// A panic there charges what was measured plus one fallback.
		if r := recover(); r != nil {
			s.bytes += FallbackBytes
			units = s.units()
		}
	}()

	w := newWalker(e.depthLimit, s)
	w.walk(reflect.ValueOf(v), 1)
	return s.units()
}

// Bytes returns the heuristic byte size of v, the quantity Estimate divides
// into units when no Counter is configured.
func (e *Estimator) Bytes(v any) (n int64) {
	s := &sizeSink{}
	defer func() {
		if r := recover(); r != nil {
			n = s.bytes + FallbackBytes
		}
	}()

	w := newWalker(e.depthLimit, s)
	w.walk(reflect.ValueOf(v), 1)
	return s.bytes
}

// sizeSink accumulates the byte model and, when a counter is configured,
// the units of textual leaves.
type sizeSink struct {
	counter Counter
	bytes   int64
	text    int64
}

func (s *sizeSink) units() int64 {
	u := s.text + s.bytes/bytesPerUnit
	if u < 1 {
		return 1
	}
	return u
}

func (s *sizeSink) str(v string) {
	if s.counter == nil {
		s.bytes += int64(len(v)) + 2
		return
	}
	if n, ok := safeCount(s.counter, v); ok {
		s.bytes += 2
		s.text += int64(n)
		return
	}
	s.bytes += int64(len(v)) + 2
}

func (s *sizeSink) blob(b []byte) {
	if s.counter == nil {
		s.bytes += int64(len(b)) + 2
		return
	}
	s.str(string(b))
}

func (s *sizeSink) key(k string)      { s.bytes += int64(len(k)) + 2 }
func (s *sizeSink) raw(b []byte)      { s.bytes += int64(len(b)) }
func (s *sizeSink) punct(byte)        { s.bytes++ }
func (s *sizeSink) fallback(_ string) { s.bytes += FallbackBytes }
func (s *sizeSink) full() bool        { return false }

func safeCount(c Counter, text string) (n int, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			n, ok = 0, false
		}
	}()
	n = c(text)
	if n < 0 {
		return 0, false
	}
	return n, true
}

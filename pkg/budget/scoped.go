// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package budget

import (
	"sort"
	"sync"
)

// Factory builds the tracker for a scope the first time it is requested.
type Factory func(scope string) Tracker

// InMemory returns a Factory that gives every scope its own Budget with the
// same limits.
func InMemory(l Limits) Factory {
	return func(string) Tracker {
		return New(WithLimits(l))
	}
}

// Scoped hands out one tracker per scope key, such as a session or an agent
// turn. Call Drop when the scope ends to release its tracker.
type Scoped struct {
	factory  Factory
	trackers sync.Map // map[string]Tracker
	mu       sync.Mutex
}

// NewScoped returns a registry backed by factory.
func NewScoped(factory Factory) *Scoped {
	return &Scoped{factory: factory}
}

// Get returns the tracker for scope, creating it on first use. Concurrent
// first calls for the same scope observe the same tracker.
func (s *Scoped) Get(scope string) Tracker {
	if t, ok := s.trackers.Load(scope); ok {
		return t.(Tracker)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trackers.Load(scope); ok {
		return t.(Tracker)
	}
	t := s.factory(scope)
	s.trackers.Store(scope, t)
	return t
}

// Drop forgets the tracker for scope. A later Get starts from zero.
func (s *Scoped) Drop(scope string) {
	s.trackers.Delete(scope)
}

// Scopes lists the live scope keys in sorted order.
func (s *Scoped) Scopes() []string {
	var keys []string
	s.trackers.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

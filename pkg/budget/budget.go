// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package budget tracks call and unit consumption against optional ceilings.
//
// Reserve is the only mutation point and is atomic: a strict reservation
// either commits both counters or commits nothing. The Remaining accessors
// are advisory and must not gate execution.
package budget

import (
	"context"
	"sync"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

// Ceiling is an optional upper bound. The zero value is unlimited.
type Ceiling struct {
	Max int64
	Set bool
}

// Max returns a ceiling of n. Negative values are treated as zero.
func Max(n int64) Ceiling {
	if n < 0 {
		n = 0
	}
	return Ceiling{Max: n, Set: true}
}

// Unlimited is the ceiling that never rejects.
var Unlimited = Ceiling{}

// Allows reports whether adding n to used stays within the ceiling.
func (c Ceiling) Allows(used, n int64) bool {
	return !c.Set || used+n <= c.Max
}

// Remaining returns the headroom above used and whether the ceiling is set.
func (c Ceiling) Remaining(used int64) (int64, bool) {
	if !c.Set {
		return 0, false
	}
	return max(0, c.Max-used), true
}

// Limits holds the ceilings for both dimensions.
type Limits struct {
	Calls Ceiling
	Units Ceiling
}

// Mode selects how Reserve treats a reservation that does not fit.
type Mode int

const (
	// ModeStrict rejects the whole reservation with a BudgetExceededError.
	ModeStrict Mode = iota
	// ModeSaturate always commits. Counters are clamped at their ceilings
	// and the clamped-off units are recorded in Usage.Overflow, so the next
	// strict reservation fails.
	ModeSaturate
)

func (m Mode) String() string {
	if m == ModeSaturate {
		return "saturate"
	}
	return "strict"
}

// Reservation is an amount to add to the counters.
type Reservation struct {
	Calls int64
	Units int64
	Mode  Mode
}

// Validate rejects negative amounts.
func (r Reservation) Validate() error {
	if r.Calls < 0 || r.Units < 0 {
		return leasherr.Errorf(leasherr.CodeBudgetReservationInvalid,
			"reservation must not be negative: calls=%d units=%d", r.Calls, r.Units)
	}
	return nil
}

// Call returns a strict reservation for one call carrying units.
func Call(units int64) Reservation {
	return Reservation{Calls: 1, Units: units}
}

// Units returns a strict reservation for units only.
func Units(units int64) Reservation {
	return Reservation{Units: units}
}

// Usage is a snapshot of committed consumption.
type Usage struct {
	Calls    int64
	Units    int64
	Overflow int64
}

// Tracker is implemented by every budget backend.
type Tracker interface {
	Reserve(ctx context.Context, r Reservation) (Usage, error)
	Usage(ctx context.Context) (Usage, error)
	Limits() Limits
}

// Resetter is implemented by trackers whose counters can be zeroed.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Releaser is implemented by trackers that can hand back a strict
// reservation whose work never happened, such as a streamed item reserved
// but never delivered.
type Releaser interface {
	Release(ctx context.Context, r Reservation) (Usage, error)
}

// Apply computes the usage that results from committing r on top of u.
// Backends run it inside their own critical section. On a strict rejection
// it returns u unchanged together with a BudgetExceededError.
func Apply(l Limits, u Usage, r Reservation) (Usage, error) {
	if err := r.Validate(); err != nil {
		return u, err
	}

	if r.Mode == ModeSaturate {
		next := u
		next.Calls = saturate(l.Calls, u.Calls, r.Calls)
		next.Units = saturate(l.Units, u.Units, r.Units)
		next.Overflow += u.Units + r.Units - next.Units
		return next, nil
	}

	if !l.Calls.Allows(u.Calls, r.Calls) {
		return u, &leasherr.BudgetExceededError{
			Dimension: leasherr.DimensionCalls,
			Limit:     l.Calls.Max,
			Requested: r.Calls,
			CallsUsed: u.Calls,
			UnitsUsed: u.Units,
		}
	}
	if !l.Units.Allows(u.Units, r.Units) {
		return u, &leasherr.BudgetExceededError{
			Dimension: leasherr.DimensionUnits,
			Limit:     l.Units.Max,
			Requested: r.Units,
			CallsUsed: u.Calls,
			UnitsUsed: u.Units,
		}
	}

	u.Calls += r.Calls
	u.Units += r.Units
	return u, nil
}

// Unapply computes the usage that results from handing r back. Counters
// never drop below zero and Overflow is left alone.
func Unapply(u Usage, r Reservation) (Usage, error) {
	if err := r.Validate(); err != nil {
		return u, err
	}
	u.Calls = max(0, u.Calls-r.Calls)
	u.Units = max(0, u.Units-r.Units)
	return u, nil
}

func saturate(c Ceiling, used, n int64) int64 {
	if !c.Set || used+n <= c.Max {
		return used + n
	}
	return max(used, c.Max)
}

// Option configures a Budget.
type Option func(*Budget)

// WithMaxCalls sets the call ceiling.
func WithMaxCalls(n int64) Option {
	return func(b *Budget) { b.limits.Calls = Max(n) }
}

// WithMaxUnits sets the unit ceiling.
func WithMaxUnits(n int64) Option {
	return func(b *Budget) { b.limits.Units = Max(n) }
}

// WithLimits replaces both ceilings.
func WithLimits(l Limits) Option {
	return func(b *Budget) { b.limits = l }
}

// Budget is the in-process Tracker. The zero value is not usable; call New.
type Budget struct {
	mu     sync.Mutex
	limits Limits
	usage  Usage
}

var (
	_ Tracker  = (*Budget)(nil)
	_ Resetter = (*Budget)(nil)
	_ Releaser = (*Budget)(nil)
)

// New returns a Budget. Without options both dimensions are unlimited.
func New(opts ...Option) *Budget {
	b := &Budget{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Reserve atomically checks r against the ceilings and commits it.
func (b *Budget) Reserve(_ context.Context, r Reservation) (Usage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := Apply(b.limits, b.usage, r)
	if err != nil {
		return b.usage, err
	}
	b.usage = next
	return next, nil
}

// Release hands back r.
func (b *Budget) Release(_ context.Context, r Reservation) (Usage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := Unapply(b.usage, r)
	if err != nil {
		return b.usage, err
	}
	b.usage = next
	return next, nil
}

// CheckAndReserve reserves one call plus units in strict mode.
func (b *Budget) CheckAndReserve(units int64) error {
	_, err := b.Reserve(context.Background(), Call(units))
	return err
}

// Usage returns the committed counters.
func (b *Budget) Usage(context.Context) (Usage, error) {
	return b.Snapshot(), nil
}

// Snapshot returns the committed counters.
func (b *Budget) Snapshot() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usage
}

// Limits returns the configured ceilings.
func (b *Budget) Limits() Limits {
	return b.limits
}

// RemainingCalls is advisory. The bool is false when calls are unlimited.
func (b *Budget) RemainingCalls() (int64, bool) {
	u := b.Snapshot()
	return b.limits.Calls.Remaining(u.Calls)
}

// RemainingUnits is advisory. The bool is false when units are unlimited.
func (b *Budget) RemainingUnits() (int64, bool) {
	u := b.Snapshot()
	return b.limits.Units.Remaining(u.Units)
}

// Reset zeroes the counters.
func (b *Budget) Reset(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage = Usage{}
	return nil
}

// Headroom is the advisory distance to each ceiling.
type Headroom struct {
	Calls        int64
	Units        int64
	CallsLimited bool
	UnitsLimited bool
}

// HeadroomOf computes advisory headroom for any Tracker.
func HeadroomOf(ctx context.Context, t Tracker) (Headroom, error) {
	u, err := t.Usage(ctx)
	if err != nil {
		return Headroom{}, err
	}
	l := t.Limits()
	var h Headroom
	h.Calls, h.CallsLimited = l.Calls.Remaining(u.Calls)
	h.Units, h.UnitsLimited = l.Units.Remaining(u.Units)
	return h, nil
}

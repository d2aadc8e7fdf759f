// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package leash

import (
	"context"

	"github.com/sigil-dev/leash/pkg/budget"
	"github.com/sigil-dev/leash/pkg/store"
)

// Preflight runs the admission half of an invocation for a tool that is
// executed elsewhere: the guard checks args and, when charge is set, one
// call and the input units are strictly reserved. It returns the input
// estimate together with the rejection, if any. A passing preflight is
// recorded with the admitted outcome; nothing is charged for the output.
func (l *Leash) Preflight(ctx context.Context, tool string, args Args, charge bool) (int64, error) {
	inv := l.newInvocation(ctx, tool)
	static, _ := splitInputs(args)
	units := l.estimator.Estimate(static)

	if err := l.guard.Evaluate(inv.ctx, tool, static); err != nil {
		return units, inv.finish(store.OutcomeBlocked, err)
	}

	if charge && l.tracker != nil {
		if _, err := l.tracker.Reserve(inv.ctx, budget.Call(units)); err != nil {
			err = withTool(tool, err)
			return units, inv.finish(outcomeOf(err), err)
		}
		inv.charged(phaseInput, units)
	}
	return units, inv.finish(store.OutcomeAdmitted, nil)
}

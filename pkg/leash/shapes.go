// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package leash

import (
	"context"
	"iter"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

// WrapFunc wraps a synchronous one-shot tool.
//
// A tool failure is returned unchanged together with whatever value the
// tool returned. When an input stream was stopped by a violation, that
// violation is returned instead of the tool's own result.
func (l *Leash) WrapFunc(name string, fn Func) Func {
	return func(ctx context.Context, args Args) (any, error) {
		inv, args, err := l.begin(ctx, name, args)
		if err != nil {
			return nil, err
		}
		defer inv.recoverPanic()

		out, err := fn(inv.ctx, args)
		return inv.settle(out, err)
	}
}

// settle finishes a one-shot invocation after the tool returned.
func (inv *invocation) settle(out any, err error) (any, error) {
	if v := inv.inputViolation(); v != nil {
		return nil, inv.fail(v)
	}
	if err != nil {
		return out, inv.fail(err)
	}
	if cerr := inv.chargeOutput(out); cerr != nil {
		return out, inv.fail(cerr)
	}
	inv.complete()
	return out, nil
}

// WrapAsync wraps an asynchronous one-shot tool. The guard and budget run
// on the returned channel's goroutine; a rejection is delivered as the
// Result's Err. The returned channel is buffered and receives exactly one
// Result. If ctx is done before the tool delivers, ctx.Err() is delivered;
// if it is done before the call starts, the tool is not run.
func (l *Leash) WrapAsync(name string, fn AsyncFunc) AsyncFunc {
	return func(ctx context.Context, args Args) <-chan Result {
		out := make(chan Result, 1)
		go func() {
			defer close(out)

			inv, args, err := l.begin(ctx, name, args)
			if err != nil {
				out <- Result{Err: err}
				return
			}
			defer inv.recoverPanic()

			var res Result
			if results := fn(inv.ctx, args); results == nil {
				res = Result{Err: leasherr.New(leasherr.CodeLeashWrapShapeInvalid,
					"async tool returned a nil result channel", leasherr.FieldTool(name))}
			} else {
				select {
				case r, ok := <-results:
					if ok {
						res = r
					} else {
						res = Result{Err: leasherr.New(leasherr.CodeLeashWrapShapeInvalid,
							"async tool closed its result channel without a result", leasherr.FieldTool(name))}
					}
				case <-ctx.Done():
					res = Result{Err: ctx.Err()}
				}
			}

			value, err := inv.settle(res.Value, res.Err)
			out <- Result{Value: value, Err: err}
		}()
		return out
	}
}

// WrapStream wraps a synchronous streaming tool. Nothing runs until the
// returned sequence is ranged over; every range is one invocation.
//
// Each item is estimated and strictly charged before it is yielded. When an
// item does not fit, it is not yielded, the BudgetExceededError is yielded
// instead and the upstream iteration is stopped. A guard or budget rejection
// before execution is yielded as the only element.
func (l *Leash) WrapStream(name string, fn StreamFunc) StreamFunc {
	return func(ctx context.Context, args Args) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			inv, args, err := l.begin(ctx, name, args)
			if err != nil {
				yield(nil, err)
				return
			}
			defer inv.recoverPanic()

			seq := fn(inv.ctx, args)
			if seq == nil {
				yield(nil, inv.fail(leasherr.New(leasherr.CodeLeashWrapShapeInvalid,
					"stream tool returned a nil sequence", leasherr.FieldTool(name))))
				return
			}

			var toolErr error
			for item, err := range seq {
				if v := inv.inputViolation(); v != nil {
					yield(nil, inv.fail(v))
					return
				}
				if err != nil {
					toolErr = err
					if !yield(nil, err) {
						inv.finish(outcomeOf(err), err)
						return
					}
					continue
				}
				if cerr := inv.chargeItem(phaseItem, item); cerr != nil {
					yield(nil, inv.fail(cerr))
					return
				}
				if !yield(item, nil) {
					inv.finish(outcomeOf(toolErr), toolErr)
					return
				}
			}

			if v := inv.inputViolation(); v != nil {
				yield(nil, inv.fail(v))
				return
			}
			inv.finish(outcomeOf(toolErr), toolErr)
		}
	}
}

// WrapChanStream wraps an asynchronous streaming tool. The returned item
// channel carries the admitted items; the error channel receives at most
// one error (a rejection, a tool failure or ctx.Err()) and is closed after
// the item channel.
//
// When an item does not fit the budget it is not sent, the
// BudgetExceededError is sent on the error channel, the tool's context is
// cancelled and its remaining items are drained and discarded.
func (l *Leash) WrapChanStream(name string, fn ChanStreamFunc) ChanStreamFunc {
	return func(ctx context.Context, args Args) (<-chan any, <-chan error) {
		items := make(chan any)
		errc := make(chan error, 1)

		go func() {
			defer close(errc)
			defer close(items)

			inv, args, err := l.begin(ctx, name, args)
			if err != nil {
				errc <- err
				return
			}
			defer inv.recoverPanic()

			if err := inv.pump(ctx, fn, args, items); err != nil {
				errc <- err
			}
		}()
		return items, errc
	}
}

// pump forwards upstream items to out until the upstream ends, a charge
// fails or ctx is done, and returns the error to report. An item is charged
// once out has taken it; the reservation of an item that could not be sent
// is released.
func (inv *invocation) pump(ctx context.Context, fn ChanStreamFunc, args Args, out chan<- any) error {
	upItems, upErrs := fn(inv.ctx, args)
	if upItems == nil && upErrs == nil {
		return inv.fail(leasherr.New(leasherr.CodeLeashWrapShapeInvalid,
			"stream tool returned nil channels", leasherr.FieldTool(inv.tool)))
	}
	stop := func(err error) error {
		inv.cancel()
		go drain(upItems)
		go drain(upErrs)
		return inv.fail(err)
	}

	for upItems != nil || upErrs != nil {
		select {
		case item, ok := <-upItems:
			if !ok {
				upItems = nil
				continue
			}
			if v := inv.inputViolation(); v != nil {
				return stop(v)
			}
			units, err := inv.reserveItem(item)
			if err != nil {
				return stop(err)
			}
			select {
			case out <- item:
				inv.charged(phaseItem, units)
			case <-ctx.Done():
				inv.release(units)
				return stop(ctx.Err())
			}
		case err, ok := <-upErrs:
			if !ok {
				upErrs = nil
				continue
			}
			if err != nil {
				return stop(err)
			}
		case <-ctx.Done():
			return stop(ctx.Err())
		}
	}

	if v := inv.inputViolation(); v != nil {
		return inv.fail(v)
	}
	inv.complete()
	return nil
}

func drain[T any](ch <-chan T) {
	if ch == nil {
		return
	}
	for range ch {
	}
}

// Wrap wraps fn after detecting its shape from its static type. fn may be
// one of the named shapes or an unnamed function with the same signature;
// the result is always the corresponding named shape.
func (l *Leash) Wrap(name string, fn any) (any, error) {
	if fn == nil {
		return nil, leasherr.Errorf(leasherr.CodeLeashWrapShapeInvalid, "tool %q is nil", name)
	}
	switch f := fn.(type) {
	case Func:
		return l.WrapFunc(name, f), nil
	case func(context.Context, Args) (any, error):
		return l.WrapFunc(name, f), nil
	case AsyncFunc:
		return l.WrapAsync(name, f), nil
	case func(context.Context, Args) <-chan Result:
		return l.WrapAsync(name, f), nil
	case StreamFunc:
		return l.WrapStream(name, f), nil
	case func(context.Context, Args) iter.Seq2[any, error]:
		return l.WrapStream(name, f), nil
	case ChanStreamFunc:
		return l.WrapChanStream(name, f), nil
	case func(context.Context, Args) (<-chan any, <-chan error):
		return l.WrapChanStream(name, f), nil
	}
	return nil, leasherr.Errorf(leasherr.CodeLeashWrapShapeInvalid,
		"tool %q has unsupported type %T", name, fn)
}

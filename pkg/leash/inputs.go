// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package leash

import (
	"iter"
	"maps"
)

// isInputStream reports whether v is an argument value delivered item by
// item: an iter.Seq[any] or a receive channel of any.
func isInputStream(v any) bool {
	switch v.(type) {
	case iter.Seq[any], func(func(any) bool), <-chan any, chan any:
		return true
	}
	return false
}

// splitInputs separates streamed argument values from the rest. The static
// view is what the guard checks and the input estimate measures; streamed
// values are checked and charged per item instead.
func splitInputs(args Args) (static Args, streams []string) {
	for name, v := range args {
		if isInputStream(v) {
			streams = append(streams, name)
		}
	}
	if len(streams) == 0 {
		return args, nil
	}

	static = make(Args, len(args)-len(streams))
	for name, v := range args {
		if !isInputStream(v) {
			static[name] = v
		}
	}
	return static, streams
}

// proxyInputs returns a copy of args whose streamed values are replaced by
// proxies that guard and charge each item under the argument's name. The
// first violation ends the proxied stream and is recorded on inv.
func (inv *invocation) proxyInputs(args Args, streams []string) Args {
	out := maps.Clone(args)
	for _, name := range streams {
		switch v := args[name].(type) {
		case iter.Seq[any]:
			out[name] = inv.proxySeq(name, v)
		case func(func(any) bool):
			out[name] = inv.proxySeq(name, v)
		case <-chan any:
			out[name] = inv.proxyChan(name, v)
		case chan any:
			out[name] = inv.proxyChan(name, v)
		}
	}
	return out
}

// admitInput guards one input item and reserves its units.
func (inv *invocation) admitInput(name string, item any) (int64, error) {
	if err := inv.l.guard.EvaluateArgument(inv.ctx, inv.tool, name, item); err != nil {
		return 0, err
	}
	return inv.reserveItem(item)
}

func (inv *invocation) proxySeq(name string, src iter.Seq[any]) iter.Seq[any] {
	return func(yield func(any) bool) {
		for item := range src {
			if inv.inputViolation() != nil {
				return
			}
			units, err := inv.admitInput(name, item)
			if err != nil {
				inv.setViolation(err)
				return
			}
			inv.charged(phaseInputItem, units)
			if !yield(item) {
				return
			}
		}
	}
}

// proxyChan forwards items from src until src closes, a violation occurs or
// the invocation's context is done. The returned channel is always closed.
func (inv *invocation) proxyChan(name string, src <-chan any) <-chan any {
	out := make(chan any)
	go func() {
		defer close(out)
		for {
			var (
				item any
				ok   bool
			)
			select {
			case item, ok = <-src:
				if !ok {
					return
				}
			case <-inv.ctx.Done():
				return
			}

			units, err := inv.admitInput(name, item)
			if err != nil {
				inv.setViolation(err)
				return
			}

			select {
			case out <- item:
				inv.charged(phaseInputItem, units)
			case <-inv.ctx.Done():
				inv.release(units)
				return
			}
		}
	}()
	return out
}

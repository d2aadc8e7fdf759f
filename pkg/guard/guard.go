// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package guard decides whether a tool call may run, based only on its
// arguments. A Guard holds an ordered list of restricted-argument rules and
// an optional custom validator. It has no state and performs no I/O of its
// own, so one Guard may serve any number of concurrent evaluations.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/estimate"
)

// DefaultSearchDepth bounds how deep Evaluate looks for a restricted
// argument name inside nested values.
const DefaultSearchDepth = 10

// Args is the argument mapping of one tool call.
type Args = map[string]any

// Rule forbids any of a set of literal, case-sensitive substrings in the
// textual form of an argument. Empty substrings never match.
type Rule struct {
	Argument  string
	Forbidden []string
}

// RestrictedArgs converts an argument-to-substrings map into rules ordered
// by argument name.
func RestrictedArgs(m map[string][]string) []Rule {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	rules := make([]Rule, 0, len(names))
	for _, name := range names {
		rules = append(rules, Rule{Argument: name, Forbidden: append([]string(nil), m[name]...)})
	}
	return rules
}

// Validator is custom allow/deny logic run after every rule has passed.
// Returning nil allows the call. A returned *errors.BlockedError is
// propagated, with the tool name filled in when empty; any other error is
// turned into one carrying its text.
type Validator func(ctx context.Context, tool string, args Args) error

// Option configures a Guard.
type Option func(*Guard)

// WithRules appends rules in order.
func WithRules(rules ...Rule) Option {
	return func(g *Guard) { g.rules = append(g.rules, rules...) }
}

// WithRestrictedArgs appends the rules built by RestrictedArgs.
func WithRestrictedArgs(m map[string][]string) Option {
	return WithRules(RestrictedArgs(m)...)
}

// WithValidator sets the custom validator. Use Chain to combine several.
func WithValidator(v Validator) Option {
	return func(g *Guard) { g.validator = v }
}

// WithNormalization folds Unicode compatibility forms and strips invisible
// characters from both values and forbidden substrings before matching.
func WithNormalization() Option {
	return func(g *Guard) { g.normalize = true }
}

// WithSearchDepth sets how deep nested values are searched for restricted
// argument names. The top-level mapping is level 1.
func WithSearchDepth(depth int) Option {
	return func(g *Guard) {
		if depth > 0 {
			g.searchDepth = depth
		}
	}
}

// Guard evaluates call arguments against its policy.
type Guard struct {
	rules       []Rule
	validator   Validator
	normalize   bool
	searchDepth int
}

// New returns a Guard. A Guard with no options allows every call.
func New(opts ...Option) *Guard {
	g := &Guard{
		searchDepth: DefaultSearchDepth,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.normalize {
		for i := range g.rules {
			forbidden := make([]string, len(g.rules[i].Forbidden))
			for j, s := range g.rules[i].Forbidden {
				forbidden[j] = normalize(s)
			}
			g.rules[i].Forbidden = forbidden
		}
	}
	return g
}

// Rules returns a copy of the configured rules in evaluation order.
func (g *Guard) Rules() []Rule {
	out := make([]Rule, len(g.rules))
	copy(out, g.rules)
	return out
}

// Evaluate returns nil when the call may proceed, or a *errors.BlockedError.
//
// Rules run first, in order. For each rule the argument is looked up at the
// top level and then inside nested values, visiting top-level entries in
// key order; the first forbidden substring found wins. The validator runs
// only after every rule passed.
func (g *Guard) Evaluate(ctx context.Context, tool string, args Args) error {
	if g == nil {
		return nil
	}

	if len(g.rules) > 0 {
		keys := sortedKeys(args)
		for _, rule := range g.rules {
			if err := g.checkRule(tool, rule, keys, args); err != nil {
				return err
			}
		}
	}

	if g.validator == nil {
		return nil
	}
	if err := g.validator(ctx, tool, args); err != nil {
		return asBlocked(tool, err)
	}
	return nil
}

// EvaluateArgument evaluates a single value as if it were the only argument,
// under name. Items of streamed arguments are checked this way.
func (g *Guard) EvaluateArgument(ctx context.Context, tool, name string, value any) error {
	return g.Evaluate(ctx, tool, Args{name: value})
}

func (g *Guard) checkRule(tool string, rule Rule, keys []string, args Args) error {
	if v, ok := args[rule.Argument]; ok {
		if err := g.match(tool, rule, v); err != nil {
			return err
		}
	}
	if g.searchDepth < 2 {
		return nil
	}
	for _, k := range keys {
		for _, v := range estimate.Find(args[k], rule.Argument, g.searchDepth-1) {
			if err := g.match(tool, rule, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// match scans the whole textual form of value. Composite values are
// rendered piecewise, so their size does not bound what is checked.
func (g *Guard) match(tool string, rule Rule, value any) error {
	sub, ok := newMatcher(rule.Forbidden).scan(value, g.normalize)
	if !ok {
		return nil
	}
	return &leasherr.BlockedError{
		ToolName:  tool,
		Reason:    fmt.Sprintf("matched restricted substring %q in argument %q", sub, rule.Argument),
		Argument:  rule.Argument,
		Substring: sub,
	}
}

// Text returns the form of value that forbidden substrings are matched
// against: strings and byte slices as is, errors and fmt.Stringers through
// their methods, and everything else through estimate.Stream, in full.
func Text(value any) string {
	var b strings.Builder
	_ = writeText(&b, value)
	return b.String()
}

func asBlocked(tool string, err error) error {
	var blocked *leasherr.BlockedError
	if errors.As(err, &blocked) {
		if blocked.ToolName != "" {
			return blocked
		}
		named := *blocked
		named.ToolName = tool
		return &named
	}
	return &leasherr.BlockedError{ToolName: tool, Reason: err.Error(), Err: err}
}

func sortedKeys(args Args) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

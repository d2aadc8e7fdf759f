// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package guard

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

// CELRule is a deny expression over the variables `tool` (string) and
// `args` (map of string to dyn). The call is blocked when the expression
// evaluates to true.
type CELRule struct {
	Name    string
	Expr    string
	Message string
}

func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
}

// CEL compiles rules into a Validator. Rules are evaluated in order. An
// evaluation error or a non-bool result blocks the call.
func CEL(rules ...CELRule) (Validator, error) {
	env, err := newCELEnv()
	if err != nil {
		return nil, leasherr.Wrap(err, leasherr.CodeLeashGuardRuleInvalid, "creating CEL environment")
	}

	type compiled struct {
		rule    CELRule
		program cel.Program
	}
	programs := make([]compiled, 0, len(rules))
	for _, rule := range rules {
		ast, issues := env.Compile(rule.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, leasherr.Errorf(leasherr.CodeLeashGuardRuleInvalid, "rule %q: compile error: %w", rule.Name, issues.Err())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, leasherr.Errorf(leasherr.CodeLeashGuardRuleInvalid, "rule %q: program error: %w", rule.Name, err)
		}
		programs = append(programs, compiled{rule: rule, program: program})
	}

	return func(ctx context.Context, tool string, args Args) error {
		if args == nil {
			args = Args{}
		}
		activation := map[string]any{"tool": tool, "args": args}
		for _, c := range programs {
			out, _, err := c.program.ContextEval(ctx, activation)
			if err != nil {
				return &leasherr.BlockedError{
					ToolName: tool,
					Reason:   fmt.Sprintf("rule %q evaluation error: %v", c.rule.Name, err),
					Err:      err,
				}
			}
			denied, ok := out.Value().(bool)
			if out.Type() != types.BoolType || !ok {
				return &leasherr.BlockedError{
					ToolName: tool,
					Reason:   fmt.Sprintf("rule %q returned non-bool type %s", c.rule.Name, out.Type().TypeName()),
				}
			}
			if denied {
				reason := c.rule.Message
				if reason == "" {
					reason = fmt.Sprintf("denied by rule %q", c.rule.Name)
				}
				return &leasherr.BlockedError{ToolName: tool, Reason: reason}
			}
		}
		return nil
	}, nil
}

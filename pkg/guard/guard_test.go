// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package guard_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/guard"
)

func TestGuard_EmptyPolicyAllows(t *testing.T) {
	g := guard.New()
	assert.NoError(t, g.Evaluate(context.Background(), "search", guard.Args{"query": "rm -rf /"}))

	var nilGuard *guard.Guard
	assert.NoError(t, nilGuard.Evaluate(context.Background(), "search", nil))
}

func TestGuard_RestrictedSubstring(t *testing.T) {
	g := guard.New(guard.WithRestrictedArgs(map[string][]string{
		"query": {"DROP TABLE", "rm -rf"},
	}))
	ctx := context.Background()

	tests := []struct {
		name    string
		args    guard.Args
		blocked bool
		sub     string
	}{
		{name: "clean value", args: guard.Args{"query": "select name from users"}},
		{name: "absent argument", args: guard.Args{"other": "DROP TABLE users"}},
		{name: "exact substring", args: guard.Args{"query": "x; DROP TABLE users"}, blocked: true, sub: "DROP TABLE"},
		{name: "case sensitive", args: guard.Args{"query": "drop table users"}},
		{name: "second substring", args: guard.Args{"query": "sudo rm -rf /"}, blocked: true, sub: "rm -rf"},
		{name: "nested under other key", args: guard.Args{"opts": map[string]any{"query": "DROP TABLE t"}}, blocked: true, sub: "DROP TABLE"},
		{name: "nested in list", args: guard.Args{"batch": []any{map[string]any{"query": "ok"}, map[string]any{"query": "rm -rf ~"}}}, blocked: true, sub: "rm -rf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Evaluate(ctx, "sql", tt.args)
			if !tt.blocked {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, leasherr.IsBlocked(err))
			blocked, ok := leasherr.AsBlocked(err)
			require.True(t, ok)
			assert.Equal(t, "sql", blocked.ToolName)
			assert.Equal(t, "query", blocked.Argument)
			assert.Equal(t, tt.sub, blocked.Substring)
			assert.Contains(t, blocked.Reason, tt.sub)
		})
	}
}

func TestGuard_NonStringValuesUseTextForm(t *testing.T) {
	g := guard.New(guard.WithRules(guard.Rule{Argument: "port", Forbidden: []string{"22"}}))
	err := g.Evaluate(context.Background(), "connect", guard.Args{"port": 22})
	assert.True(t, leasherr.IsBlocked(err))

	err = g.Evaluate(context.Background(), "connect", guard.Args{"port": 443})
	assert.NoError(t, err)
}

func TestGuard_EmptySubstringNeverMatches(t *testing.T) {
	g := guard.New(guard.WithRules(guard.Rule{Argument: "q", Forbidden: []string{""}}))
	assert.NoError(t, g.Evaluate(context.Background(), "t", guard.Args{"q": "anything"}))
}

func TestGuard_RulesRunBeforeValidator(t *testing.T) {
	called := false
	g := guard.New(
		guard.WithRules(guard.Rule{Argument: "q", Forbidden: []string{"bad"}}),
		guard.WithValidator(func(context.Context, string, guard.Args) error {
			called = true
			return nil
		}),
	)

	err := g.Evaluate(context.Background(), "t", guard.Args{"q": "bad"})
	assert.True(t, leasherr.IsBlocked(err))
	assert.False(t, called)

	require.NoError(t, g.Evaluate(context.Background(), "t", guard.Args{"q": "good"}))
	assert.True(t, called)
}

func TestGuard_ValidatorErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("plain error becomes blocked", func(t *testing.T) {
		cause := errors.New("not on weekends")
		g := guard.New(guard.WithValidator(func(context.Context, string, guard.Args) error { return cause }))

		err := g.Evaluate(ctx, "deploy", nil)
		blocked, ok := leasherr.AsBlocked(err)
		require.True(t, ok)
		assert.Equal(t, "deploy", blocked.ToolName)
		assert.Equal(t, "not on weekends", blocked.Reason)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("blocked error gets tool name", func(t *testing.T) {
		orig := &leasherr.BlockedError{Reason: "custom"}
		g := guard.New(guard.WithValidator(func(context.Context, string, guard.Args) error { return orig }))

		err := g.Evaluate(ctx, "deploy", nil)
		blocked, ok := leasherr.AsBlocked(err)
		require.True(t, ok)
		assert.Equal(t, "deploy", blocked.ToolName)
		assert.Equal(t, "custom", blocked.Reason)
		assert.Empty(t, orig.ToolName, "validator's error must not be mutated")
	})
}

func TestGuard_Normalization(t *testing.T) {
	rules := map[string][]string{"cmd": {"rm -rf"}}
	evasive := "r\u200bm -rf /"
	fullwidth := "\uff52\uff4d -rf /"

	plain := guard.New(guard.WithRestrictedArgs(rules))
	assert.NoError(t, plain.Evaluate(context.Background(), "shell", guard.Args{"cmd": evasive}))

	g := guard.New(guard.WithRestrictedArgs(rules), guard.WithNormalization())
	assert.True(t, leasherr.IsBlocked(g.Evaluate(context.Background(), "shell", guard.Args{"cmd": evasive})))
	assert.True(t, leasherr.IsBlocked(g.Evaluate(context.Background(), "shell", guard.Args{"cmd": fullwidth})))
}

func TestGuard_SearchDepth(t *testing.T) {
	deep := map[string]any{"a": map[string]any{"b": map[string]any{"q": "bad"}}}

	g := guard.New(guard.WithRules(guard.Rule{Argument: "q", Forbidden: []string{"bad"}}))
	assert.True(t, leasherr.IsBlocked(g.Evaluate(context.Background(), "t", guard.Args{"x": deep})))

	shallow := guard.New(
		guard.WithRules(guard.Rule{Argument: "q", Forbidden: []string{"bad"}}),
		guard.WithSearchDepth(1),
	)
	assert.NoError(t, shallow.Evaluate(context.Background(), "t", guard.Args{"x": deep}))
}

func TestGuard_EvaluateArgument(t *testing.T) {
	g := guard.New(guard.WithRules(guard.Rule{Argument: "chunk", Forbidden: []string{"secret"}}))
	assert.NoError(t, g.EvaluateArgument(context.Background(), "upload", "chunk", "hello"))
	assert.True(t, leasherr.IsBlocked(g.EvaluateArgument(context.Background(), "upload", "chunk", "top secret")))
}

func TestGuard_RulesCopy(t *testing.T) {
	g := guard.New(guard.WithRestrictedArgs(map[string][]string{"b": {"x"}, "a": {"y"}}))
	rules := g.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].Argument)
	assert.Equal(t, "b", rules[1].Argument)

	rules[0].Argument = "changed"
	assert.Equal(t, "a", g.Rules()[0].Argument)
}

type stringer struct{ s string }

func (s *stringer) String() string { return s.s }

func TestText(t *testing.T) {
	assert.Equal(t, "plain", guard.Text("plain"))
	assert.Equal(t, "raw", guard.Text([]byte("raw")))
	assert.Equal(t, "boom", guard.Text(errors.New("boom")))
	assert.Equal(t, "custom", guard.Text(&stringer{s: "custom"}))
	assert.Equal(t, `{"k":[1,"v"]}`, guard.Text(map[string]any{"k": []any{1, "v"}}))

	var nilStringer *stringer
	assert.NotPanics(t, func() { guard.Text(nilStringer) })
}

func TestGuard_MatchesPastLargeValues(t *testing.T) {
	ctx := context.Background()
	padding := strings.Repeat("a", 2<<20)
	rules := map[string][]string{"cmd": {"rm -rf"}}

	tests := []struct {
		name string
		g    *guard.Guard
		cmd  any
	}{
		{"list", guard.New(guard.WithRestrictedArgs(rules)), []any{padding, "rm -rf /"}},
		{"map", guard.New(guard.WithRestrictedArgs(rules)), map[string]any{"a": padding, "b": "rm -rf /"}},
		{"normalized", guard.New(guard.WithRestrictedArgs(rules), guard.WithNormalization()), []any{padding, "r\u200bm -rf /"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.g.Evaluate(ctx, "shell", guard.Args{"cmd": tt.cmd})
			blocked, ok := leasherr.AsBlocked(err)
			require.True(t, ok)
			assert.Equal(t, "rm -rf", blocked.Substring)
		})
	}
}

func TestGuard_MatchSpansRenderedTokens(t *testing.T) {
	g := guard.New(guard.WithRules(guard.Rule{Argument: "argv", Forbidden: []string{`"rm","-rf"`}}))
	err := g.Evaluate(context.Background(), "exec", guard.Args{"argv": []any{"rm", "-rf", "/"}})
	assert.True(t, leasherr.IsBlocked(err))

	err = g.Evaluate(context.Background(), "exec", guard.Args{"argv": []any{"rm", "-i", "-rf"}})
	assert.NoError(t, err)
}

func TestGuard_UnrenderedSubtreesNeverMatch(t *testing.T) {
	g := guard.New(guard.WithRules(guard.Rule{Argument: "q", Forbidden: []string{"cycle", "opaque", "depth", "<"}}))
	ctx := context.Background()

	self := map[string]any{}
	self["me"] = self
	assert.NoError(t, g.Evaluate(ctx, "t", guard.Args{"q": self}))
	assert.NoError(t, g.Evaluate(ctx, "t", guard.Args{"q": make(chan int)}))

	var deep any = "leaf"
	for range 20 {
		deep = []any{deep}
	}
	assert.NoError(t, g.Evaluate(ctx, "t", guard.Args{"q": deep}))

	self["note"] = "a cycle"
	assert.True(t, leasherr.IsBlocked(g.Evaluate(ctx, "t", guard.Args{"q": self})), "user text still matches")
}

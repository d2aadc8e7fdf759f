// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestExec_RunsCommand(t *testing.T) {
	requireBinary(t, "echo")
	cfg := writeConfig(t, shellPolicy)

	out, err := run(t, nil, "exec", "--config", cfg, "--", "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	out, err = run(t, nil, "budget", "status", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "calls     1 / unlimited")
}

func TestExec_GuardsArgv(t *testing.T) {
	requireBinary(t, "echo")
	cfg := writeConfig(t, shellPolicy)

	out, err := run(t, nil, "exec", "--config", cfg, "--", "echo", "the secret")
	require.Error(t, err)
	assert.True(t, leasherr.IsBlocked(err))
	assert.NotContains(t, out, "the secret", "a blocked command never runs")
}

func TestExec_StreamStopsAtBudget(t *testing.T) {
	requireBinary(t, "printf")
	// 17 units for the argv plus room for two 3-unit lines.
	cfg := writeConfig(t, "budget:\n  max_units: 23\n")

	out, err := run(t, nil, "exec", "--stream", "--config", cfg, "--", "printf", `aaaaaaaaaa\nbbbbbbbbbb\ncccccccccc\ndddddddddd\n`)
	require.Error(t, err)
	exceeded, ok := leasherr.AsBudgetExceeded(err)
	require.True(t, ok)
	assert.Equal(t, "printf", exceeded.ToolName)
	assert.Contains(t, out, "aaaaaaaaaa\nbbbbbbbbbb\n")
	assert.NotContains(t, out, "cccccccccc")
}

func TestExec_StdinIsGuarded(t *testing.T) {
	requireBinary(t, "cat")
	cfg := writeConfig(t, `
guard:
  restrictions:
    - argument: stdin
      forbidden: ["DROP"]
`)

	_, err := run(t, strings.NewReader("SELECT 1\nDROP TABLE users\n"), "exec", "--stdin", "--config", cfg, "--", "cat")
	require.Error(t, err)
	blocked, ok := leasherr.AsBlocked(err)
	require.True(t, ok)
	assert.Equal(t, "stdin", blocked.Argument)
}

func TestExec_ToolName(t *testing.T) {
	requireBinary(t, "echo")
	cfg := writeConfig(t, shellPolicy)

	_, err := run(t, nil, "exec", "--tool", "greeter", "--config", cfg, "--", "echo", "hi")
	require.NoError(t, err)

	out, err := run(t, nil, "audit", "--tool", "greeter", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/leash/internal/server"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/store"
)

const shellPolicy = `
guard:
  restrictions:
    - argument: cmd
      forbidden: ["rm -rf"]
    - argument: argv
      forbidden: ["secret"]
audit:
  enabled: true
`

func TestCheck_Allowed(t *testing.T) {
	cfg := writeConfig(t, shellPolicy)
	out, err := run(t, strings.NewReader(`{"cmd": "ls"}`), "check", "shell", "-f", "-", "--json", "--config", cfg)
	require.NoError(t, err)

	var d server.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.True(t, d.Allowed)
	assert.Equal(t, "allowed", d.Outcome)
	assert.Positive(t, d.Units)
	assert.Nil(t, d.Usage)
}

func TestCheck_Blocked(t *testing.T) {
	cfg := writeConfig(t, shellPolicy)
	out, err := run(t, strings.NewReader("cmd: rm -rf /\n"), "check", "shell", "-f", "-", "--config", cfg)
	require.Error(t, err)
	assert.True(t, leasherr.IsBlocked(err))
	assert.Contains(t, out, "blocked")
	assert.Contains(t, out, "argument  cmd")
}

func TestCheck_ChargeSharesScopeAcrossRuns(t *testing.T) {
	cfg := writeConfig(t, shellPolicy+"budget:\n  max_calls: 1\n")

	out, err := run(t, nil, "check", "shell", "--charge", "--scope", "turn-1", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "calls     1 / 1")

	out, err = run(t, nil, "check", "shell", "--charge", "--scope", "turn-1", "--config", cfg)
	require.Error(t, err)
	assert.True(t, leasherr.IsBudgetExceeded(err))
	assert.Contains(t, out, "budget_exceeded")

	_, err = run(t, nil, "check", "shell", "--charge", "--scope", "turn-2", "--config", cfg)
	require.NoError(t, err, "scopes are independent")
}

func TestCheck_Schema(t *testing.T) {
	cfg := writeConfig(t, "")
	schema := writeFile(t, "schema.json", `{"type":"object","required":["q"]}`)

	_, err := run(t, strings.NewReader(`{"x": 1}`), "check", "search", "-f", "-", "--schema", schema, "--config", cfg)
	require.Error(t, err)
	assert.True(t, leasherr.HasCode(err, leasherr.CodeBoundaryPayloadInvalid))
}

func TestEstimate(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := run(t, strings.NewReader(`{"q":"abcd"}`), "estimate", "-f", "-", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "3 units (12 bytes)\n", out)
}

func TestBudget_ReserveStatusReset(t *testing.T) {
	cfg := writeConfig(t, "budget:\n  max_units: 10\n")

	_, err := run(t, nil, "budget", "reserve", "--units", "8", "--config", cfg)
	require.NoError(t, err)

	_, err = run(t, nil, "budget", "reserve", "--units", "5", "--config", cfg)
	require.Error(t, err)
	assert.True(t, leasherr.IsBudgetExceeded(err), "strict reservations do not fit")

	out, err := run(t, nil, "budget", "reserve", "--units", "5", "--mode", "saturate", "--json", "--config", cfg)
	require.NoError(t, err)
	var u server.Usage
	require.NoError(t, json.Unmarshal([]byte(out), &u))
	assert.Equal(t, int64(10), u.Units)
	assert.Equal(t, int64(3), u.Overflow)

	out, err = run(t, nil, "budget", "status", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "units     10 / 10")
	assert.Contains(t, out, "overflow  3")

	out, err = run(t, nil, "budget", "reset", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "units     0 / 10")
}

func TestBudget_InvalidMode(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, nil, "budget", "reserve", "--calls", "1", "--mode", "lenient", "--config", cfg)
	require.Error(t, err)
	assert.True(t, leasherr.HasCode(err, leasherr.CodeCLIInputInvalid))
}

func TestAudit_ListsDecisions(t *testing.T) {
	cfg := writeConfig(t, shellPolicy)
	_, err := run(t, strings.NewReader(`{"cmd": "ls"}`), "check", "shell", "-f", "-", "--config", cfg)
	require.NoError(t, err)
	_, err = run(t, strings.NewReader(`{"cmd": "rm -rf /"}`), "check", "shell", "-f", "-", "--config", cfg)
	require.Error(t, err)

	out, err := run(t, nil, "audit", "--outcome", "blocked", "--json", "--config", cfg)
	require.NoError(t, err)
	var entries []store.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "shell", entries[0].Tool)
	assert.Equal(t, "cmd", entries[0].Details["argument"])

	out, err = run(t, nil, "audit", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "admitted")
	assert.Contains(t, out, "blocked")
}

func TestAudit_Disabled(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, nil, "audit", "--config", cfg)
	require.Error(t, err)
}

func TestAudit_UnknownOutcome(t *testing.T) {
	cfg := writeConfig(t, shellPolicy)
	_, err := run(t, nil, "audit", "--outcome", "maybe", "--config", cfg)
	require.Error(t, err)
	assert.True(t, leasherr.HasCode(err, leasherr.CodeCLIInputInvalid))
}

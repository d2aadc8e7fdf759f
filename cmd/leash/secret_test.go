// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

func TestSecret_SetResolvesInConfig(t *testing.T) {
	keyring.MockInit()
	cfg := writeConfig(t, "")

	out, err := run(t, strings.NewReader("hunter2\n"), "secret", "set", "leash", "redis", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "stored keyring://leash/redis")

	val, err := keyring.Get("leash", "redis")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", val)

	_, err = run(t, nil, "secret", "delete", "leash", "redis", "--config", cfg)
	require.NoError(t, err)
	_, err = run(t, nil, "secret", "delete", "leash", "redis", "--config", cfg)
	assert.True(t, leasherr.HasCode(err, leasherr.CodeSecretNotFound))
}

func TestSecret_EmptyValue(t *testing.T) {
	keyring.MockInit()
	cfg := writeConfig(t, "")
	_, err := run(t, strings.NewReader(""), "secret", "set", "leash", "redis", "--config", cfg)
	require.Error(t, err)
	assert.True(t, leasherr.HasCode(err, leasherr.CodeCLIInputInvalid))
}

func TestKeyringReferenceInConfig(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, keyring.Set("leash-cfg", "redis", "from-keyring"))

	mr := miniredis.RunT(t)
	mr.RequireAuth("from-keyring")

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfg := writeFile(t, "leash.yaml", `
storage:
  backend: redis
  redis:
    addr: `+mr.Addr()+`
    password: keyring://leash-cfg/redis
`)

	out, err := run(t, nil, "budget", "reserve", "--calls", "1", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "calls     1 / unlimited")
}

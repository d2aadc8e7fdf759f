// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package estimate_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/leash/pkg/estimate"
)

func TestStream_IsUncapped(t *testing.T) {
	long := make([]any, 300000)
	for i := range long {
		long[i] = "item"
	}

	var b strings.Builder
	require.NoError(t, estimate.Stream(&b, long))
	assert.Greater(t, b.Len(), estimate.DefaultRenderLimit)
	assert.Equal(t, estimate.New().Bytes(long), int64(b.Len()))
	assert.True(t, strings.HasSuffix(b.String(), `"item"]`))
}

func TestStream_MatchesRenderForPlainValues(t *testing.T) {
	v := map[string]any{"cmd": []any{"rm", "-rf", 3, true, nil}}
	var b strings.Builder
	require.NoError(t, estimate.Stream(&b, v))
	assert.Equal(t, estimate.Render(v, 0), b.String())
}

func TestStream_OmitsFallbackMarkers(t *testing.T) {
	self := map[string]any{}
	self["me"] = self

	var b strings.Builder
	require.NoError(t, estimate.Stream(&b, self))
	assert.Equal(t, `{"me":}`, b.String())

	b.Reset()
	require.NoError(t, estimate.New(estimate.WithDepthLimit(1)).Stream(&b, map[string]any{"k": "v"}))
	assert.Equal(t, `{"k":}`, b.String())

	b.Reset()
	require.NoError(t, estimate.Stream(&b, make(chan int)))
	assert.Empty(t, b.String())
}

var errSinkFull = errors.New("sink full")

// limitedWriter accepts n writes and then fails.
type limitedWriter struct{ n int }

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.n <= 0 {
		return 0, errSinkFull
	}
	w.n--
	return len(p), nil
}

func TestStream_StopsAtWriteError(t *testing.T) {
	w := &limitedWriter{n: 3}
	err := estimate.Stream(w, []any{"a", "b", "c"})
	assert.ErrorIs(t, err, errSinkFull)
	assert.Zero(t, w.n)
}

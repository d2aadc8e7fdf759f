// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/leash/pkg/budget"
	"github.com/sigil-dev/leash/pkg/store/sqlite"
)

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".db")
}

// openTestStore opens a fresh store enforcing limits and closes it on cleanup.
func openTestStore(t *testing.T, name string, limits budget.Limits) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(testDBPath(t, name), limits)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

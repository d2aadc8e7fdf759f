// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"os"
	"path/filepath"

	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/store"
)

// DefaultFileName is used when the storage config names no database path.
const DefaultFileName = "leash.db"

func init() {
	store.RegisterBackend("sqlite", openBackend)
}

func openBackend(cfg *store.Config, limits budget.Limits) (store.Backend, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultFileName
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, leasherr.Wrapf(err, leasherr.CodeStoreDatabaseFailure, "creating directory for %s", path)
		}
	}

	s, err := Open(path, limits)
	if err != nil {
		return nil, leasherr.Wrap(err, leasherr.CodeStoreDatabaseFailure, "opening sqlite backend", leasherr.FieldBackend("sqlite"))
	}
	return s, nil
}

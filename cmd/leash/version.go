// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	goruntime "runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/leash/pkg/store"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print leash version information",
		Long:  "Print the leash version, the Go toolchain it was built with and the storage backends compiled in.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "leash %s (commit: %s, built: %s)\n", version, commit, date)
			_, _ = fmt.Fprintf(out, "  go        %s %s/%s\n", goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
			_, err := fmt.Fprintf(out, "  backends  %s\n", strings.Join(store.Backends(), ", "))
			return err
		},
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/leash/internal/server"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running sidecar",
		Long:  "Check a running sidecar's health endpoint and print the usage of one budget scope.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:18790", "sidecar address to check")
	cmd.Flags().String("scope", "", "budget scope to show (sidecar default when empty)")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	scope, _ := cmd.Flags().GetString("scope")
	out := cmd.OutOrStdout()

	sc := newSidecarClient(addr)
	var health server.HealthBody
	if err := sc.getJSON("/health", nil, &health); err != nil {
		if leasherr.HasCode(err, leasherr.CodeCLISidecarNotRunning) {
			_, _ = fmt.Fprintf(out, "Sidecar at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Sidecar at %s: %s\n", addr, err)
		return nil
	}
	_, _ = fmt.Fprintf(out, "Sidecar at %s: %s\n", addr, health.Status)

	q := url.Values{}
	if scope != "" {
		q.Set("scope", scope)
	}
	var usage server.Usage
	if err := sc.getJSON("/api/v1/budget", q, &usage); err != nil {
		return err
	}
	printUsage(out, &usage)
	return nil
}

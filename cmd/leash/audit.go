// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/store"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recorded invocation decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := auditFilter(cmd)
			if err != nil {
				return err
			}
			return a.withRuntime(func(rt *runtime) error {
				audit := rt.audit()
				if audit == nil {
					return leasherr.New(leasherr.CodeCLIInputInvalid, "audit trail not enabled (set audit.enabled)")
				}
				entries, err := audit.Query(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
					if entries == nil {
						entries = []*store.AuditEntry{}
					}
					return writeJSON(cmd.OutOrStdout(), entries)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "TIME\tTOOL\tSCOPE\tOUTCOME\tUNITS\tREASON")
				for _, e := range entries {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
						e.Timestamp.Format(time.RFC3339), e.Tool, e.Scope, e.Outcome, e.Units, e.Reason)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().String("tool", "", "only entries of this tool")
	cmd.Flags().String("outcome", "", "only entries with this outcome")
	cmd.Flags().String("scope", "", "only entries of this scope")
	cmd.Flags().Duration("since", 0, "only entries newer than this duration")
	cmd.Flags().Int("limit", 50, "maximum entries to list")
	cmd.Flags().Bool("json", false, "print JSON")
	return cmd
}

func auditFilter(cmd *cobra.Command) (store.AuditFilter, error) {
	f := store.AuditFilter{
		Tool:    flagString(cmd, "tool"),
		Outcome: store.Outcome(flagString(cmd, "outcome")),
		Scope:   flagString(cmd, "scope"),
	}
	switch f.Outcome {
	case "", store.OutcomeAdmitted, store.OutcomeCompleted, store.OutcomeFailed,
		store.OutcomeBlocked, store.OutcomeBudgetExceeded:
	default:
		return f, leasherr.Errorf(leasherr.CodeCLIInputInvalid, "unknown outcome %q", f.Outcome)
	}
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		f.From = time.Now().Add(-since)
	}
	f.Limit, _ = cmd.Flags().GetInt("limit")
	return f, nil
}

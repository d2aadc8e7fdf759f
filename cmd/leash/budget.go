// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/leash/internal/server"
	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

func newBudgetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect and manage shared budget scopes",
	}
	cmd.PersistentFlags().String("scope", "", "budget scope (configured default when empty)")
	cmd.PersistentFlags().Bool("json", false, "print JSON")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show usage and limits of a scope",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withRuntime(func(rt *runtime) error {
					scope := rt.scope(flagString(cmd, "scope"))
					tracker := rt.backend.Tracker(scope)
					u, err := tracker.Usage(cmd.Context())
					if err != nil {
						return err
					}
					return writeUsage(cmd, usageOf(scope, u, tracker.Limits()))
				})
			},
		},
		newBudgetReserveCmd(a),
		&cobra.Command{
			Use:   "reset",
			Short: "Zero the counters of a scope",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withRuntime(func(rt *runtime) error {
					scope := rt.scope(flagString(cmd, "scope"))
					tracker := rt.backend.Tracker(scope)
					resetter, ok := tracker.(budget.Resetter)
					if !ok {
						return leasherr.New(leasherr.CodeCLIInputInvalid, "budget backend cannot reset counters",
							leasherr.FieldBackend(rt.cfg.Storage.Backend))
					}
					if err := resetter.Reset(cmd.Context()); err != nil {
						return err
					}
					rt.logger.Info("budget scope reset", "scope", scope)
					return writeUsage(cmd, usageOf(scope, budget.Usage{}, tracker.Limits()))
				})
			},
		},
	)
	return cmd
}

func newBudgetReserveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Reserve calls and units in a scope",
		Long: "Reserve calls and units in a scope. In strict mode a reservation that does not fit\n" +
			"is rejected and nothing changes; in saturate mode the counters are clamped at their\n" +
			"ceilings and the excess is recorded as overflow.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			calls, _ := cmd.Flags().GetInt64("calls")
			units, _ := cmd.Flags().GetInt64("units")
			mode, err := parseMode(flagString(cmd, "mode"))
			if err != nil {
				return err
			}
			r := budget.Reservation{Calls: calls, Units: units, Mode: mode}
			if err := r.Validate(); err != nil {
				return err
			}

			return a.withRuntime(func(rt *runtime) error {
				scope := rt.scope(flagString(cmd, "scope"))
				tracker := rt.backend.Tracker(scope)
				u, err := tracker.Reserve(cmd.Context(), r)
				if err != nil {
					return err
				}
				return writeUsage(cmd, usageOf(scope, u, tracker.Limits()))
			})
		},
	}
	cmd.Flags().Int64("calls", 0, "calls to reserve")
	cmd.Flags().Int64("units", 0, "units to reserve")
	cmd.Flags().String("mode", "strict", "reservation mode: strict or saturate")
	return cmd
}

func parseMode(s string) (budget.Mode, error) {
	switch s {
	case "", "strict":
		return budget.ModeStrict, nil
	case "saturate":
		return budget.ModeSaturate, nil
	default:
		return budget.ModeStrict, leasherr.Errorf(leasherr.CodeCLIInputInvalid,
			"mode must be %q or %q, got %q", "strict", "saturate", s)
	}
}

func usageOf(scope string, u budget.Usage, l budget.Limits) *server.Usage {
	out := &server.Usage{Scope: scope, Calls: u.Calls, Units: u.Units, Overflow: u.Overflow}
	if l.Calls.Set {
		out.MaxCalls = &l.Calls.Max
	}
	if l.Units.Set {
		out.MaxUnits = &l.Units.Max
	}
	return out
}

func writeUsage(cmd *cobra.Command, u *server.Usage) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), u)
	}
	printUsage(cmd.OutOrStdout(), u)
	return nil
}

func printUsage(w io.Writer, u *server.Usage) {
	_, _ = fmt.Fprintf(w, "scope %s\n", u.Scope)
	_, _ = fmt.Fprintf(w, "  calls     %d / %s\n", u.Calls, ceilingText(u.MaxCalls))
	_, _ = fmt.Fprintf(w, "  units     %d / %s\n", u.Units, ceilingText(u.MaxUnits))
	if u.Overflow > 0 {
		_, _ = fmt.Fprintf(w, "  overflow  %d\n", u.Overflow)
	}
}

func ceilingText(ceiling *int64) string {
	if ceiling == nil {
		return "unlimited"
	}
	return fmt.Sprint(*ceiling)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func flagString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	return s
}

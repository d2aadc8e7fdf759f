// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/leash/internal/boundary"
	"github.com/sigil-dev/leash/internal/server"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/store"
)

func newCheckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check TOOL",
		Short: "Check a tool call against the guard",
		Long: "Check a tool call's arguments against the guard policy and, with --charge, reserve\n" +
			"one call and the input units in a budget scope. Arguments are a JSON or YAML object\n" +
			"read from --file (\"-\" for stdin). A rejected call exits non-zero.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			tool := argv[0]
			args, err := readArgs(cmd)
			if err != nil {
				return err
			}
			if schemaPath := flagString(cmd, "schema"); schemaPath != "" {
				if err := validateArgs(schemaPath, args); err != nil {
					return err
				}
			}
			charge, _ := cmd.Flags().GetBool("charge")

			return a.withRuntime(func(rt *runtime) error {
				scope := rt.scope(flagString(cmd, "scope"))
				l := rt.leash(scope)
				units, rejection := l.Preflight(cmd.Context(), tool, args, charge)

				d := &server.Decision{Allowed: true, Outcome: "allowed", Units: units}
				if blocked, ok := leasherr.AsBlocked(rejection); ok {
					d.Allowed = false
					d.Outcome = string(store.OutcomeBlocked)
					d.Reason = blocked.Reason
					d.Argument = blocked.Argument
					d.Substring = blocked.Substring
				} else if exceeded, ok := leasherr.AsBudgetExceeded(rejection); ok {
					d.Allowed = false
					d.Outcome = string(store.OutcomeBudgetExceeded)
					d.Reason = exceeded.Error()
				} else if rejection != nil {
					return rejection
				}
				if charge && d.Allowed {
					tracker := l.Budget()
					u, err := tracker.Usage(cmd.Context())
					if err != nil {
						return err
					}
					d.Usage = usageOf(scope, u, tracker.Limits())
				}

				if err := writeDecision(cmd, d); err != nil {
					return err
				}
				return rejection
			})
		},
	}
	cmd.Flags().StringP("file", "f", "", `arguments file, "-" for stdin`)
	cmd.Flags().String("schema", "", "JSON Schema the arguments must match")
	cmd.Flags().Bool("charge", false, "reserve one call and the input units when allowed")
	cmd.Flags().String("scope", "", "budget scope to charge (configured default when empty)")
	cmd.Flags().Bool("json", false, "print JSON")
	return cmd
}

// readArgs decodes the --file payload. No file is an empty argument map.
func readArgs(cmd *cobra.Command) (map[string]any, error) {
	path := flagString(cmd, "file")
	var (
		data []byte
		err  error
	)
	switch path {
	case "":
		return map[string]any{}, nil
	case "-":
		data, err = io.ReadAll(cmd.InOrStdin())
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, leasherr.Errorf(leasherr.CodeCLIInputInvalid, "reading arguments: %w", err)
	}
	return boundary.Decode(data)
}

func validateArgs(schemaPath string, args map[string]any) error {
	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		return leasherr.Errorf(leasherr.CodeCLIInputInvalid, "reading schema: %w", err)
	}
	v, err := boundary.NewValidator(schema)
	if err != nil {
		return err
	}
	return v.Validate(args)
}

func writeDecision(cmd *cobra.Command, d *server.Decision) error {
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, d)
	}
	_, _ = fmt.Fprintf(out, "%s (%d units)\n", d.Outcome, d.Units)
	if d.Argument != "" {
		_, _ = fmt.Fprintf(out, "  argument  %s\n", d.Argument)
	}
	if d.Reason != "" {
		_, _ = fmt.Fprintf(out, "  reason    %s\n", d.Reason)
	}
	if d.Usage != nil {
		printUsage(out, d.Usage)
	}
	return nil
}

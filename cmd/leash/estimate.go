// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEstimateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the unit cost of a payload",
		Long:  "Estimate the consumption units of a JSON or YAML document read from --file (\"-\" for stdin).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := readArgs(cmd)
			if err != nil {
				return err
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}
			est := cfg.Estimator.NewEstimator()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d units (%d bytes)\n", est.Estimate(value), est.Bytes(value))
			return err
		},
	}
	cmd.Flags().StringP("file", "f", "", `payload file, "-" for stdin`)
	return cmd
}

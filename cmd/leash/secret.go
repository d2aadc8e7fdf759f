// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

func newSecretCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
		Long: "Store secrets in the OS keyring so config files can reference them as\n" +
			"keyring://SERVICE/KEY, for example storage.redis.password.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set SERVICE KEY",
			Short: "Store a secret read from stdin",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				value = strings.TrimRight(value, "\r\n")
				if value == "" {
					if err != nil {
						return leasherr.Errorf(leasherr.CodeCLIInputInvalid, "reading secret from stdin: %w", err)
					}
					return leasherr.New(leasherr.CodeCLIInputInvalid, "secret value is empty")
				}
				if err := a.secrets.Set(args[0], args[1], value); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored keyring://%s/%s\n", args[0], args[1])
				return err
			},
		},
		&cobra.Command{
			Use:   "delete SERVICE KEY",
			Short: "Remove a secret",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.secrets.Delete(args[0], args[1]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted keyring://%s/%s\n", args[0], args[1])
				return err
			},
		},
	)
	return cmd
}

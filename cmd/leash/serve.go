// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/leash/internal/boundary"
	"github.com/sigil-dev/leash/internal/server"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP sidecar",
		Long: "Serve the check, estimate, budget and audit API so processes in any language can\n" +
			"share one guard policy and one set of budget scopes.",
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.bindFlag(cmd, "server.listen", "listen")
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			schemas, _ := cmd.Flags().GetStringToString("schema")
			return a.withRuntime(func(rt *runtime) error {
				srv, err := newSidecar(rt, schemas)
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				rt.logger.Info("starting sidecar",
					"listen", rt.cfg.Server.Listen,
					"backend", rt.cfg.Storage.Backend,
					"scope", rt.cfg.Budget.Scope)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "leash sidecar listening on %s\n", rt.cfg.Server.Listen)
				return srv.Start(ctx)
			})
		},
	}
	cmd.Flags().String("listen", "", "override listen address (host:port)")
	cmd.Flags().StringToString("schema", nil, "tool=path of a JSON Schema its arguments must match (repeatable)")
	return cmd
}

// newSidecar builds the HTTP server around rt.
func newSidecar(rt *runtime, schemas map[string]string) (*server.Server, error) {
	opts := []server.ServicesOption{
		server.WithGatherer(rt.registry),
		server.WithMetrics(rt.metrics),
		server.WithDefaultScope(rt.cfg.Budget.Scope),
	}
	if audit := rt.audit(); audit != nil {
		opts = append(opts, server.WithAudit(audit))
	}
	for tool, path := range schemas {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, leasherr.Errorf(leasherr.CodeCLIInputInvalid, "reading schema for %s: %w", tool, err)
		}
		v, err := boundary.NewValidator(data)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithSchema(tool, v))
	}

	svc, err := server.NewServices(rt.guard, rt.estimator, rt.backend, opts...)
	if err != nil {
		return nil, err
	}
	return server.New(server.Config{
		ListenAddr:  rt.cfg.Server.Listen,
		CORSOrigins: rt.cfg.Server.CORSOrigins,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: rt.cfg.Server.RateLimit,
			Burst:             rt.cfg.Server.RateBurst,
		},
		Version: version,
	}, svc)
}

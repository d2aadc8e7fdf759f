// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/leash/internal/config"
	"github.com/sigil-dev/leash/internal/logging"
	"github.com/sigil-dev/leash/internal/secrets"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

// app carries per-invocation CLI state. Each root command owns its own
// viper instance.
type app struct {
	v       *viper.Viper
	cfgPath string
	secrets secrets.Store
	// keyringPassword is set when the Redis password came from the keyring
	// rather than the config file.
	keyringPassword bool
	logger          *slog.Logger
	sync            func()
}

// NewRootCmd creates the root leash command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{
		v:       viper.New(),
		secrets: secrets.NewKeyringStore(),
		logger:  slog.Default(),
		sync:    func() {},
	}

	root := &cobra.Command{
		Use:           "leash",
		Short:         "leash — guard and budget agent tool calls",
		Long:          "leash checks tool-call arguments against a guard policy and charges them to shared call and unit budgets.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.sync()
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newCheckCmd(a),
		newEstimateCmd(a),
		newExecCmd(a),
		newBudgetCmd(a),
		newAuditCmd(a),
		newServeCmd(a),
		newStatusCmd(),
		newSecretCmd(a),
		newVersionCmd(),
	)

	return root
}

// init sets up viper with defaults, env bindings and an optional config
// file so the standard precedence (flag > env > file > defaults) is handled
// uniformly, then builds the logger.
func (a *app) init(cmd *cobra.Command) error {
	v := a.v

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return leasherr.Errorf(leasherr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is omitted: with it, viper also tries the bare name
		// "leash", which collides with the binary in the project root.
		v.SetConfigName("leash")
		v.AddConfigPath(".")
		if dir, err := config.ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath("/etc/leash")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return leasherr.Errorf(leasherr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return leasherr.Errorf(leasherr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}
	a.cfgPath = v.ConfigFileUsed()

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger, sync, err := logging.New(verbose)
	if err != nil {
		return leasherr.Wrap(err, leasherr.CodeCLISetupFailure, "building logger")
	}
	a.logger, a.sync = logger, sync
	slog.SetDefault(logger)

	a.keyringPassword = secrets.IsRef(v.GetString("storage.redis.password"))
	secrets.ResolveViper(v, a.secrets)
	return nil
}

// config decodes and validates the resolved configuration.
func (a *app) config() (*config.Config, error) {
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return nil, err
	}
	if !a.keyringPassword {
		config.WarnInsecurePermissions(a.cfgPath, cfg)
	}
	return cfg, nil
}

// bindFlag binds a command flag to a config key.
func (a *app) bindFlag(cmd *cobra.Command, key, flag string) error {
	if err := a.v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		return leasherr.Errorf(leasherr.CodeCLISetupFailure, "binding %s flag: %w", flag, err)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bidmart/bidmart/internal/config"
	"github.com/bidmart/bidmart/internal/logging"
	"github.com/bidmart/bidmart/internal/xdg"
)

// app carries state shared by every subcommand once the root command has
// loaded configuration.
type app struct {
	configFile string
	cfg        config.Config
	logger     *slog.Logger
	// open builds the storage backend; tests replace it.
	open backendOpener
}

// NewRootCmd creates the root command for the BidMart CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{open: openBackend})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bidmart",
		Short: "BidMart - bulk operations for marketplace documents",
		Long: `BidMart applies one action to many marketplace documents at once,
either item by item or as a single all-or-nothing transaction, after
checking that the caller holds the role the action requires.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/bidmart/config.yaml if present)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newBulkCmd(a))
	cmd.AddCommand(newCheckCmd(a))
	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newSeedCmd(a))

	return cmd
}

// load reads configuration and installs the default logger. Without --config
// the XDG config file is used when it exists.
func (a *app) load(cmd *cobra.Command) error {
	path := a.configFile
	if path == "" {
		found, err := xdg.ExistingConfigFile()
		if err != nil {
			return err
		}
		path = found
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.SetDefault(logging.Options{
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})
	a.logger.Debug("configuration loaded", "config", cfg.String())
	return nil
}

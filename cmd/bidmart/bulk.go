// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package main

import (
	"encoding/json"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/bidmart/bidmart/internal/bulk"
	"github.com/bidmart/bidmart/internal/bulk/script"
)

// bulkConfig holds configuration for the bulk command.
type bulkConfig struct {
	file          string
	callerID      string
	transactional bool
	scriptPath    string
	seedFile      string
}

// newBulkCmd creates the bulk subcommand.
func newBulkCmd(a *app) *cobra.Command {
	cfg := &bulkConfig{}

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Run one bulk operation from a request file",
		Long: `Runs the bulk request in a YAML or JSON file as the given caller and
prints the result as JSON. With --script the request's action is carried
out by the handle(doc, data) function of a Lua file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBulk(cmd, a, cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.file, "file", "f", "", "bulk request file (YAML or JSON)")
	cmd.Flags().StringVar(&cfg.callerID, "caller", "", "user id of the caller")
	cmd.Flags().BoolVar(&cfg.transactional, "transactional", false, "apply all items in one transaction")
	cmd.Flags().StringVar(&cfg.scriptPath, "script", "", "Lua file implementing the action")
	cmd.Flags().StringVar(&cfg.seedFile, "seed", "", "YAML documents to load before running (see seed)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("caller")

	return cmd
}

func runBulk(cmd *cobra.Command, a *app, cfg *bulkConfig) error {
	raw, err := os.ReadFile(cfg.file) //nolint:gosec // path is an operator-supplied CLI argument
	if err != nil {
		return oops.Code("BULK_READ_FAILED").With("path", cfg.file).Wrap(err)
	}
	req, err := bulk.ParseRequest(raw)
	if err != nil {
		return err
	}

	var opts bulk.RunOptions
	opts.Transactional = cfg.transactional
	if cfg.scriptPath != "" {
		action, loadErr := script.Load(cfg.scriptPath)
		if loadErr != nil {
			return loadErr
		}
		opts.Action = action
	}

	seed, err := loadSeed(cfg.seedFile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := a.open(ctx, a.cfg, a.logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open store").Wrap(err)
	}
	defer b.close()

	if _, err := applySeed(ctx, b.store, seed); err != nil {
		return err
	}

	c, err := buildComponents(a.cfg, b, nil, a.logger)
	if err != nil {
		return err
	}

	result, err := c.service.Run(ctx, cfg.callerID, req, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "no items succeeded"
		}
		return oops.Code("BULK_FAILED").With("failed", result.FailedCount).Errorf("%s", msg)
	}
	return nil
}

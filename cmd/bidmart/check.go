// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package main

import (
	"encoding/json"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/bidmart/bidmart/internal/access"
)

// checkConfig holds configuration for the check command.
type checkConfig struct {
	callerID string
	role     string
}

// newCheckCmd creates the check subcommand.
func newCheckCmd(a *app) *cobra.Command {
	cfg := &checkConfig{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a caller holds a role",
		Long: `Prints the permission check result for the caller as JSON and exits
non-zero when the caller lacks the role.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, a, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.callerID, "caller", "", "user id of the caller")
	cmd.Flags().StringVar(&cfg.role, "role", string(access.RoleUser), "required role (user, seller, admin)")
	_ = cmd.MarkFlagRequired("caller")

	return cmd
}

func runCheck(cmd *cobra.Command, a *app, cfg *checkConfig) error {
	role, err := access.ParseRole(cfg.role)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := a.open(ctx, a.cfg, a.logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open store").Wrap(err)
	}
	defer b.close()

	c, err := buildComponents(a.cfg, b, nil, a.logger)
	if err != nil {
		return err
	}

	result := c.gate.CheckPermission(ctx, cfg.callerID, role)
	if err := json.NewEncoder(cmd.OutOrStdout()).Encode(result); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	if !result.Valid {
		return oops.Code("PERMISSION_DENIED").
			With("caller_id", cfg.callerID).
			With("required_role", string(role)).
			Errorf("%s", result.Error)
	}
	return nil
}

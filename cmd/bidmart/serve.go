// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/bidmart/bidmart/internal/api"
	"github.com/bidmart/bidmart/internal/observability"
)

// shutdownTimeout bounds graceful shutdown of the HTTP listeners.
const shutdownTimeout = 10 * time.Second

// serveConfig holds configuration for the serve command.
type serveConfig struct {
	autoMigrate bool
	seedFile    string
}

// newServeCmd creates the serve subcommand.
func newServeCmd(a *app) *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bulk operations HTTP API",
		Long: `Starts the HTTP API (POST /v1/bulk, GET /v1/permissions/{role}) and,
unless --metrics-addr is empty, the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, a, cfg, nil)
		},
	}

	cmd.Flags().BoolVar(&cfg.autoMigrate, "auto-migrate", true, "apply pending migrations on startup")
	cmd.Flags().StringVar(&cfg.seedFile, "seed", "", "YAML documents to load on startup (see seed)")

	return cmd
}

// runServe serves until ctx is cancelled. When ready is non-nil it receives
// the API address once the listener is open.
func runServe(ctx context.Context, cmd *cobra.Command, a *app, cfg *serveConfig, ready chan<- string) error {
	if cfg.autoMigrate {
		if err := migrateDatabase(a.cfg, a.logger); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
		}
	}

	b, err := a.open(ctx, a.cfg, a.logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open store").Wrap(err)
	}
	defer b.close()

	seed, err := loadSeed(cfg.seedFile)
	if err != nil {
		return err
	}
	n, err := applySeed(ctx, b.store, seed)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Info("seeded documents", "count", n)
	}

	var metrics *observability.Metrics
	if a.cfg.Metrics.Addr != "" {
		obs := observability.NewServer(a.cfg.Metrics.Addr, b.ready)
		if _, err := obs.Start(); err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if stopErr := obs.Stop(stopCtx); stopErr != nil {
				a.logger.Warn("failed to stop observability server", "error", stopErr)
			}
		}()
		metrics = obs.Metrics()
	}

	c, err := buildComponents(a.cfg, b, metrics, a.logger)
	if err != nil {
		return err
	}

	handlerOpts := []api.Option{api.WithLogger(a.logger)}
	if metrics != nil {
		handlerOpts = append(handlerOpts, api.WithRequestRecorder(metrics))
	}
	handler := api.NewHandler(c.service, c.gate, handlerOpts...)

	listener, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", a.cfg.HTTP.Addr).Wrap(err)
	}

	srv := &http.Server{
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	addr := listener.Addr().String()
	a.logger.Info("bulk API listening", "addr", addr)
	cmd.Printf("Serving bulk API on %s\n", addr)
	if ready != nil {
		ready <- addr
	}

	select {
	case <-ctx.Done():
	case serveErr := <-errCh:
		if serveErr != nil {
			return oops.Code("SERVE_FAILED").Wrap(serveErr)
		}
	}

	a.logger.Info("shutting down bulk API")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/bidmart/bidmart/internal/access"
	"github.com/bidmart/bidmart/internal/bulk"
	"github.com/bidmart/bidmart/internal/config"
	"github.com/bidmart/bidmart/internal/docstore"
	"github.com/bidmart/bidmart/internal/docstore/memory"
	pgdocstore "github.com/bidmart/bidmart/internal/docstore/postgres"
	"github.com/bidmart/bidmart/internal/observability"
	"github.com/bidmart/bidmart/internal/store"
)

// backend is an opened document store plus what the service needs around it.
type backend struct {
	store docstore.Store
	// audit is nil for the in-memory store.
	audit bulk.AuditLog
	// ready is nil when the store cannot become unavailable.
	ready observability.ReadinessChecker
	close func()
}

// backendOpener opens the storage backend selected by cfg.
type backendOpener func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error)

// openBackend uses PostgreSQL when a database URL is configured and the
// in-memory store otherwise.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, documents are kept in memory")
		return &backend{store: memory.New(), close: func() {}}, nil
	}

	pool, err := store.OpenPool(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	return &backend{
		store: pgdocstore.New(pool,
			pgdocstore.WithMaxAttempts(cfg.Bulk.TxMaxAttempts),
			pgdocstore.WithLogger(logger)),
		audit: store.NewBulkAuditRepository(pool),
		ready: pool.Ping,
		close: pool.Close,
	}, nil
}

// migrateDatabase applies pending migrations when a database is configured.
func migrateDatabase(cfg config.Config, logger *slog.Logger) error {
	if cfg.Database.URL == "" {
		return nil
	}
	migrator, err := store.NewMigrator(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	pending, err := migrator.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	logger.Info("applying migrations", "pending", pending)
	return migrator.Up()
}

// buildPolicy turns configured rules into a Policy. Without configured rules
// the built-in rules apply.
func buildPolicy(cfg config.PolicyConfig) (*access.Policy, error) {
	defaultRole, err := access.ParseRole(cfg.DefaultRole)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("field", "policy.default_role").Wrap(err)
	}

	rules := access.DefaultRules()
	if len(cfg.Rules) > 0 {
		rules = make([]access.Rule, 0, len(cfg.Rules))
		for _, r := range cfg.Rules {
			rules = append(rules, access.Rule{Pattern: r.Pattern, Role: access.Role(r.Role)})
		}
	}
	return access.NewPolicy(defaultRole, rules)
}

// components is the wired bulk service and the gate it authorizes with.
type components struct {
	service *bulk.Service
	gate    *access.Gate
}

// buildComponents wires the gate, executor and service over b. metrics may be nil.
func buildComponents(cfg config.Config, b *backend, metrics *observability.Metrics, logger *slog.Logger) (*components, error) {
	policy, err := buildPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}

	gateOpts := []access.GateOption{access.WithLogger(logger)}
	execOpts := []bulk.Option{
		bulk.WithLogger(logger),
		bulk.WithConcurrency(cfg.Bulk.Concurrency),
	}
	if metrics != nil {
		gateOpts = append(gateOpts, access.WithRecorder(metrics))
		execOpts = append(execOpts, bulk.WithRecorder(metrics))
	}

	gate := access.NewGate(access.NewDocumentDirectory(b.store), gateOpts...)
	exec := bulk.NewExecutor(b.store, execOpts...)

	svcOpts := []bulk.ServiceOption{bulk.WithServiceLogger(logger)}
	if b.audit != nil {
		svcOpts = append(svcOpts, bulk.WithAuditLog(b.audit))
	}

	return &components{
		service: bulk.NewService(exec, gate, policy, svcOpts...),
		gate:    gate,
	}, nil
}

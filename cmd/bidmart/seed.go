// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package main

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bidmart/bidmart/internal/docstore"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedData maps collection → document id → fields.
type seedData map[string]map[string]map[string]any

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	file    string
	timeout time.Duration
}

// newSeedCmd creates the seed subcommand.
func newSeedCmd(a *app) *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load documents from a YAML file",
		Long: `Writes every document in a YAML file of the form

  users:
    admin-1: {role: admin}
  products:
    p1: {name: Lamp, price: 10}

Existing documents with the same id are replaced.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, a, cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.file, "file", "f", "", "YAML file with documents to load")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runSeed(cmd *cobra.Command, a *app, cfg *seedConfig) error {
	data, err := loadSeed(cfg.file)
	if err != nil {
		return err
	}

	// cmd.Context() carries SIGINT/SIGTERM cancellation.
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	if err := migrateDatabase(a.cfg, a.logger); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	b, err := a.open(ctx, a.cfg, a.logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open store").Wrap(err)
	}
	defer b.close()

	n, err := applySeed(ctx, b.store, data)
	if err != nil {
		return err
	}

	cmd.Printf("Seeded %d documents\n", n)
	return nil
}

// loadSeed reads a seed file. An empty path yields no documents.
func loadSeed(path string) (seedData, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path) //nolint:gosec // path is an operator-supplied CLI argument
	if err != nil {
		return nil, oops.Code("SEED_READ_FAILED").With("path", path).Wrap(err)
	}
	var data seedData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, oops.Code("SEED_PARSE_FAILED").With("path", path).Wrap(err)
	}
	return data, nil
}

// applySeed writes data to s in collection then id order and returns the
// number of documents written.
func applySeed(ctx context.Context, s docstore.Writer, data seedData) (int, error) {
	collections := make([]string, 0, len(data))
	for c := range data {
		collections = append(collections, c)
	}
	sort.Strings(collections)

	n := 0
	for _, collection := range collections {
		docs := data[collection]
		ids := make([]string, 0, len(docs))
		for id := range docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			if err := s.Set(ctx, collection, id, docs[id]); err != nil {
				return n, oops.Code("SEED_FAILED").
					With("collection", collection).
					With("id", id).
					Wrap(err)
			}
			n++
		}
	}
	return n, nil
}

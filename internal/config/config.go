// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

// Package config holds process-wide constants and runtime configuration for BidMart.
package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// MaxBulkOperationItems is the largest id list a bulk operation may carry.
// Callers enforce it before invoking an executor.
const MaxBulkOperationItems = 500

// Default values for runtime configuration.
const (
	DefaultLogFormat        = "json"
	DefaultLogLevel         = "info"
	DefaultHTTPAddr         = "127.0.0.1:8080"
	DefaultMetricsAddr      = "127.0.0.1:9100"
	DefaultBulkConcurrency  = 1
	DefaultTxMaxAttempts    = 5
	DefaultPolicyRole       = "admin"
	databaseURLEnvVar       = "DATABASE_URL"
	maxAllowedConcurrency   = 64
	maxAllowedTxMaxAttempts = 20
)

// Config is the runtime configuration shared by every bidmart command.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Bulk     BulkConfig     `koanf:"bulk"`
	Policy   PolicyConfig   `koanf:"policy"`
}

// DatabaseConfig selects the document store backend.
type DatabaseConfig struct {
	// URL is a PostgreSQL connection string. Empty selects the in-memory store.
	URL string `koanf:"url"`
}

// LogConfig controls log output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// HTTPConfig controls the bulk API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig controls the observability listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// BulkConfig tunes the bulk executors.
type BulkConfig struct {
	Concurrency   int `koanf:"concurrency"`
	TxMaxAttempts int `koanf:"tx_max_attempts"`
}

// PolicyConfig maps collection:action patterns to the minimum role they require.
type PolicyConfig struct {
	DefaultRole string       `koanf:"default_role"`
	Rules       []PolicyRule `koanf:"rules"`
}

// PolicyRule is a single glob pattern → role binding.
type PolicyRule struct {
	Pattern string `koanf:"pattern"`
	Role    string `koanf:"role"`
}

// flagKeys maps CLI flag names onto koanf keys.
var flagKeys = map[string]string{
	"database-url":    "database.url",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"http-addr":       "http.addr",
	"metrics-addr":    "metrics.addr",
	"concurrency":     "bulk.concurrency",
	"tx-max-attempts": "bulk.tx_max_attempts",
	"policy-default":  "policy.default_role",
}

// Default returns the configuration used when no file or flag overrides a value.
func Default() Config {
	return Config{
		Log:     LogConfig{Format: DefaultLogFormat, Level: DefaultLogLevel},
		HTTP:    HTTPConfig{Addr: DefaultHTTPAddr},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		Bulk: BulkConfig{
			Concurrency:   DefaultBulkConcurrency,
			TxMaxAttempts: DefaultTxMaxAttempts,
		},
		Policy: PolicyConfig{DefaultRole: DefaultPolicyRole},
	}
}

// RegisterFlags adds the configuration flags to fs with their default values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("database-url", "", "PostgreSQL connection string (default: $DATABASE_URL, empty = in-memory store)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("http-addr", d.HTTP.Addr, "bulk API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.Int("concurrency", d.Bulk.Concurrency, "per-item concurrency for non-transactional bulk operations")
	fs.Int("tx-max-attempts", d.Bulk.TxMaxAttempts, "attempts for transactions aborted by serialization conflicts")
	fs.String("policy-default", d.Policy.DefaultRole, "role required when no policy rule matches")
}

// Load builds a Config from, in increasing precedence: defaults, the YAML file at
// path (skipped when empty), explicitly set flags, and DATABASE_URL when no URL
// was configured. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv(databaseURLEnvVar)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return oops.Code("CONFIG_INVALID").Errorf("log level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Bulk.Concurrency < 1 || c.Bulk.Concurrency > maxAllowedConcurrency {
		return oops.Code("CONFIG_INVALID").
			With("concurrency", c.Bulk.Concurrency).
			Errorf("bulk concurrency must be between 1 and %d", maxAllowedConcurrency)
	}
	if c.Bulk.TxMaxAttempts < 1 || c.Bulk.TxMaxAttempts > maxAllowedTxMaxAttempts {
		return oops.Code("CONFIG_INVALID").
			With("tx_max_attempts", c.Bulk.TxMaxAttempts).
			Errorf("transaction attempts must be between 1 and %d", maxAllowedTxMaxAttempts)
	}
	for i, r := range c.Policy.Rules {
		if r.Pattern == "" || r.Role == "" {
			return oops.Code("CONFIG_INVALID").
				With("rule", i).
				Errorf("policy rule %d needs both pattern and role", i)
		}
	}
	return nil
}

// String renders a config summary safe for logs (no credentials).
func (c Config) String() string {
	backend := "memory"
	if c.Database.URL != "" {
		backend = "postgres"
	}
	return fmt.Sprintf("backend=%s log=%s http=%s metrics=%s concurrency=%d rules=%d",
		backend, c.Log.Format, c.HTTP.Addr, c.Metrics.Addr, c.Bulk.Concurrency, len(c.Policy.Rules))
}

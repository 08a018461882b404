// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/canonical/sqlcompose/dialect"
)

// Config is the YAML form of the connection settings:
//
//	dialect: postgres
//	nested_transactions: true
//	statement_cache_size: 128
//	log_level: debug
type Config struct {
	// Dialect is a name accepted by dialect.Lookup.
	Dialect string `yaml:"dialect,omitempty"`
	// NestedTransactions turns nested Begin calls into savepoints.
	NestedTransactions bool `yaml:"nested_transactions,omitempty"`
	// StatementCacheSize bounds the prepared statement cache.
	StatementCacheSize int `yaml:"statement_cache_size,omitempty"`
	// LogLevel is an hclog level name. Logging is off when empty.
	LogLevel string `yaml:"log_level,omitempty"`
}

// ParseConfig parses and validates a YAML configuration document.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfig reads and parses the configuration file at path.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	return ParseConfig(data)
}

// Validate checks that every field holds a usable value.
func (cfg *Config) Validate() error {
	if _, err := dialect.Lookup(cfg.Dialect); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.StatementCacheSize < 0 {
		return fmt.Errorf("invalid config: negative statement cache size %d", cfg.StatementCacheSize)
	}
	if cfg.LogLevel != "" && hclog.LevelFromString(cfg.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("invalid config: unknown log level %q", cfg.LogLevel)
	}
	return nil
}

// DialectValue returns the configured dialect.
func (cfg *Config) DialectValue() (dialect.Dialect, error) {
	return dialect.Lookup(cfg.Dialect)
}

// ConnOptions returns the runtime options described by the configuration.
// Log output goes to w.
func (cfg *Config) ConnOptions(w io.Writer) *ConnOptions {
	opts := &ConnOptions{
		NestedTransactions: cfg.NestedTransactions,
		StatementCacheSize: cfg.StatementCacheSize,
	}
	if cfg.LogLevel != "" {
		opts.Logger = hclog.New(&hclog.LoggerOptions{
			Name:   "sqlcompose",
			Level:  hclog.LevelFromString(strings.TrimSpace(cfg.LogLevel)),
			Output: w,
		})
	}
	return opts
}

// Package config handles sagactl configuration files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default configuration file name.
const ConfigFileName = "sagactl.yaml"

// Config represents the sagactl configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Tables   TablesConfig   `yaml:"tables"`
	Recovery RecoveryConfig `yaml:"recovery"`
}

// DatabaseConfig holds the connection settings for the saga store.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. The SAGACTL_DATABASE_URL
	// environment variable takes precedence when set.
	URL string `yaml:"url"`

	// Schema is the PostgreSQL schema holding the saga tables.
	Schema string `yaml:"schema"`
}

// TablesConfig names the tables used by each store.
type TablesConfig struct {
	Executions  string `yaml:"executions"`
	Locks       string `yaml:"locks"`
	Idempotency string `yaml:"idempotency"`
	Dispatch    string `yaml:"dispatch"`
}

// RecoveryConfig holds operator defaults for orphan scans.
type RecoveryConfig struct {
	// GraceWindow is how long an execution must be idle before it is
	// considered orphaned.
	GraceWindow time.Duration `yaml:"graceWindow"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:    "postgres://localhost:5432/saga?sslmode=disable",
			Schema: "public",
		},
		Tables: TablesConfig{
			Executions:  "saga_executions",
			Locks:       "saga_locks",
			Idempotency: "saga_idempotency",
			Dispatch:    "saga_dispatch",
		},
		Recovery: RecoveryConfig{
			GraceWindow: time.Minute,
		},
	}
}

// Load reads the configuration from the default file in the current
// directory, falling back to defaults if no file exists.
func Load() (*Config, error) {
	return LoadFile(ConfigFileName)
}

// LoadFile reads the configuration from the given path. A missing file is
// not an error; defaults are returned instead.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the default file in the current directory.
func (c *Config) Save() error {
	return c.SaveFile(ConfigFileName)
}

// SaveFile writes the configuration to the given path.
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Exists reports whether a configuration file exists at the default path.
func Exists() bool {
	_, err := os.Stat(ConfigFileName)
	return err == nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url must not be empty")
	}
	if c.Database.Schema == "" {
		c.Database.Schema = "public"
	}
	if c.Tables.Executions == "" {
		c.Tables.Executions = "saga_executions"
	}
	if c.Tables.Locks == "" {
		c.Tables.Locks = "saga_locks"
	}
	if c.Tables.Idempotency == "" {
		c.Tables.Idempotency = "saga_idempotency"
	}
	if c.Tables.Dispatch == "" {
		c.Tables.Dispatch = "saga_dispatch"
	}
	if c.Recovery.GraceWindow <= 0 {
		c.Recovery.GraceWindow = time.Minute
	}
	return nil
}

func (c *Config) applyEnv() {
	if url := os.Getenv("SAGACTL_DATABASE_URL"); url != "" {
		c.Database.URL = url
	}
}

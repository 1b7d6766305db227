// Copyright 2025 The Obskit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the obskit configuration file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obskit/obskit/internal/cache"
	"github.com/obskit/obskit/pkg/errors"
)

// Config is the complete obskit configuration.
type Config struct {
	// Server configures the MCP host.
	Server ServerConfig `yaml:"server"`

	// NewRelic configures the NerdGraph client.
	NewRelic NewRelicConfig `yaml:"newrelic"`

	// Cache configures the Redis query cache. Empty addr disables it.
	Cache cache.Config `yaml:"cache"`

	// Audit configures the tool invocation log.
	Audit AuditConfig `yaml:"audit"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Plugins holds per-plugin config sections keyed by plugin name. The
	// section's "enabled" key gates loading; the rest is the plugin's own
	// configuration validated against its declared schema.
	Plugins map[string]map[string]any `yaml:"plugins"`
}

// ServerConfig configures the MCP host.
type ServerConfig struct {
	// Name is the MCP server name advertised to clients. Default: "obskit".
	Name string `yaml:"name"`

	// CallsPerMinute rate-limits tool calls. Default: 100.
	CallsPerMinute int `yaml:"calls_per_minute"`

	// MetricsAddr, when set, serves Prometheus metrics on this address
	// (e.g. "127.0.0.1:9090"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// NewRelicConfig configures the NerdGraph client.
type NewRelicConfig struct {
	// APIKey is the New Relic user API key.
	// Environment: OBSKIT_API_KEY
	APIKey string `yaml:"api_key"`

	// AccountID is the default account for account-scoped queries.
	// Environment: OBSKIT_ACCOUNT_ID
	AccountID string `yaml:"account_id"`

	// Region selects the NerdGraph endpoint ("us" or "eu"). Default: us.
	Region string `yaml:"region"`

	// Endpoint overrides the region-derived GraphQL endpoint (mainly tests).
	Endpoint string `yaml:"endpoint"`

	// Timeout is the per-request timeout. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries bounds retry attempts on transient failures. Default: 3.
	MaxRetries int `yaml:"max_retries"`
}

// AuditConfig configures the tool invocation log.
type AuditConfig struct {
	// Enabled turns invocation recording on.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database path.
	// Default: <config dir>/obskit/audit.db
	Path string `yaml:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum level (debug, info, warn, error). Default: info.
	Level string `yaml:"level"`

	// Format sets the output format (json, text). Default: json.
	Format string `yaml:"format"`
}

// DefaultPath returns the default config file location, honoring
// XDG_CONFIG_HOME.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "obskit", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "obskit", "config.yaml")
}

// Load reads the config file at path, applies environment overrides and
// defaults, and validates the result. A missing file is not an error: the
// environment alone can carry a complete configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &errors.ConfigError{
				Key:    path,
				Reason: "invalid YAML",
				Cause:  err,
			}
		}
	case os.IsNotExist(err):
		// Environment-only configuration.
	default:
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the file values. Environment
// wins, matching the per-plugin override convention.
func (c *Config) applyEnv() {
	if v := os.Getenv("OBSKIT_API_KEY"); v != "" {
		c.NewRelic.APIKey = v
	}
	if v := os.Getenv("OBSKIT_ACCOUNT_ID"); v != "" {
		c.NewRelic.AccountID = v
	}
	if v := os.Getenv("OBSKIT_REGION"); v != "" {
		c.NewRelic.Region = v
	}
	if v := os.Getenv("OBSKIT_CACHE_ADDR"); v != "" {
		c.Cache.Addr = v
	}
	if v := os.Getenv("OBSKIT_AUDIT_PATH"); v != "" {
		c.Audit.Path = v
		c.Audit.Enabled = true
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "obskit"
	}
	if c.Server.CallsPerMinute == 0 {
		c.Server.CallsPerMinute = 100
	}
	if c.NewRelic.Region == "" {
		c.NewRelic.Region = "us"
	}
	if c.NewRelic.Timeout == 0 {
		c.NewRelic.Timeout = 30 * time.Second
	}
	if c.NewRelic.MaxRetries == 0 {
		c.NewRelic.MaxRetries = 3
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(filepath.Dir(DefaultPath()), "audit.db")
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.NewRelic.APIKey == "" {
		return &errors.ConfigError{
			Key:    "newrelic.api_key",
			Reason: "API key is required (set OBSKIT_API_KEY or newrelic.api_key)",
		}
	}
	switch c.NewRelic.Region {
	case "us", "eu":
	default:
		return &errors.ConfigError{
			Key:    "newrelic.region",
			Reason: "region must be \"us\" or \"eu\", got " + c.NewRelic.Region,
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &errors.ConfigError{
			Key:    "log.level",
			Reason: "level must be debug, info, warn, or error",
		}
	}
	return nil
}

// PluginSections returns the per-plugin config sections with the "enabled"
// gate stripped, in the shape the plugin config manager expects.
func (c *Config) PluginSections() map[string]map[string]any {
	sections := make(map[string]map[string]any, len(c.Plugins))
	for name, section := range c.Plugins {
		copied := make(map[string]any, len(section))
		for k, v := range section {
			if k == "enabled" {
				continue
			}
			copied[k] = v
		}
		sections[name] = copied
	}
	return sections
}

// DisabledPlugins returns the set of plugins with enabled: false.
func (c *Config) DisabledPlugins() map[string]bool {
	disabled := make(map[string]bool)
	for name, section := range c.Plugins {
		if enabled, ok := section["enabled"].(bool); ok && !enabled {
			disabled[name] = true
		}
	}
	return disabled
}

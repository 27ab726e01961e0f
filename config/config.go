/*
config.go - Service configuration

PURPOSE:
  Loads service-level configuration from a YAML file with sane
  defaults, so the binary runs with no config file at all. Tenant
  behaviour (scoring, funding, planting mode) is NOT here; that
  lives per tenant in the store.

PRECEDENCE:
  defaults < config file < command-line flags (applied in main)

SEE ALSO:
  - cmd/server/main.go: flag overrides
  - tenant/config.go: per-tenant behaviour
*/
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the service-level configuration.
type Config struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"dbPath"`

	Fulfillment Fulfillment `yaml:"fulfillment"`
	Scheduler   Scheduler   `yaml:"scheduler"`

	// Development switches the logger to console output.
	Development bool `yaml:"development"`
}

// Fulfillment configures the tree-planting API client.
type Fulfillment struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
}

// Scheduler configures the periodic batch runner.
type Scheduler struct {
	Enabled              bool `yaml:"enabled"`
	CheckIntervalMinutes int  `yaml:"checkIntervalMinutes"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Port:   8080,
		DBPath: "impact.db",
		Scheduler: Scheduler{
			Enabled:              true,
			CheckIntervalMinutes: 60,
		},
	}
}

// Load reads path over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("config %s: invalid port %d", path, cfg.Port)
	}
	if cfg.Scheduler.CheckIntervalMinutes <= 0 {
		cfg.Scheduler.CheckIntervalMinutes = 60
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it fills in defaults for anything the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches standard locations and loads the first config found.
// Search order: ./gatewright.yaml, ~/.gatewright/config.yaml. When none
// exists, the built-in defaults are returned rather than an error, so a
// fresh install works without any file.
func LoadDefault() (*Config, error) {
	candidates := []string{"gatewright.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".gatewright", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills in the stock policy for unset values.
func applyDefaults(cfg *Config) {
	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = 3
	}
	if cfg.Engine.RiskCeiling == 0 {
		cfg.Engine.RiskCeiling = 0.8
	}
	if cfg.Engine.CostHoldFraction == 0 {
		cfg.Engine.CostHoldFraction = 0.8
	}
	if cfg.Budget.AlertThreshold == 0 {
		cfg.Budget.AlertThreshold = 0.8
	}
	if cfg.Prune.MaxDecisions == 0 {
		cfg.Prune.MaxDecisions = 10
	}
	if cfg.Prune.MaxFiles == 0 {
		cfg.Prune.MaxFiles = 20
	}
	if cfg.Workdir == "" {
		cfg.Workdir = "."
	}
}

package main

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the example server configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Timezone is the IANA display zone used for day bucketing.
	Timezone string `yaml:"timezone"`

	// DBPath is the SQLite database file; empty selects the in-memory
	// store.
	DBPath string `yaml:"db_path"`

	// RefreshCron re-checks the display zone and sweeps the instance
	// store on this schedule. Empty disables the sweep.
	RefreshCron string `yaml:"refresh"`

	// MaxOccurrences caps expansion per recurrence set and window.
	MaxOccurrences int `yaml:"max_occurrences"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8080",
		Timezone:       "UTC",
		RefreshCron:    "*/15 * * * *",
		MaxOccurrences: 3000,
	}
}

// LoadConfig reads a YAML config file, writing the defaults on first
// run.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := SaveConfig(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the configuration with owner-only permissions.
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

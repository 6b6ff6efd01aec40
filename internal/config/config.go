// Package config holds the runtime options the version store reads.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the tiered version store configuration.
type Config struct {
	// P2CommitAttempts bounds the optimistic retries of the intention log
	// collapse.
	P2CommitAttempts int `yaml:"p2_commit_attempts"`

	// WaitOnCollapse makes commit operations block until the collapse
	// completes instead of running it in the background.
	WaitOnCollapse bool `yaml:"wait_on_collapse"`

	// EnableTracing opts into span emission around the collapse.
	EnableTracing bool `yaml:"enable_tracing"`

	// StorePath is the bbolt store file.
	StorePath string `yaml:"store_path"`
}

// Default returns the recommended configuration.
func Default() Config {
	return Config{
		P2CommitAttempts: 5,
		WaitOnCollapse:   true,
		EnableTracing:    false,
		StorePath:        "vatn.db",
	}
}

// Load reads a yaml config file, filling unset fields with defaults. A
// missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.P2CommitAttempts <= 0 {
		cfg.P2CommitAttempts = Default().P2CommitAttempts
	}
	if cfg.StorePath == "" {
		cfg.StorePath = Default().StorePath
	}
	return cfg, nil
}

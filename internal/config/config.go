/*
 * config.go
 *
 * Copyright 2026 Benjamin Barenblat
 */
/*
 * This file is part of Scoville.
 *
 * It is licensed under the MIT license. The full license text can be found
 * in the License.txt file at the root of this project.
 */

// Package config loads the optional scoville configuration file.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config is the complete on-disk configuration. Every field has a usable
// default; an absent file yields Default().
type Config struct {
	// MountOptions are FUSE options applied before any -o flags from the
	// command line.
	MountOptions []string `yaml:"mount_options"`

	Trace   TraceConfig   `yaml:"trace"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TraceConfig controls callback tracing.
type TraceConfig struct {
	Verbose bool   `yaml:"verbose"`
	Pattern string `yaml:"pattern"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Trace: TraceConfig{
			Pattern: "github.com/bbarenblat/scoville/*",
		},
		Metrics: MetricsConfig{
			Address: "localhost:9090",
			Path:    "/metrics",
		},
	}
}

// Load reads the YAML configuration at path. An empty path yields
// Default(). Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors a typo would produce.
func (c *Config) Validate() error {
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			return fmt.Errorf("bad metrics address %q: %w", c.Metrics.Address, err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path %q must start with /", c.Metrics.Path)
		}
	}
	for _, opt := range c.MountOptions {
		if opt == "" {
			return fmt.Errorf("empty mount option")
		}
	}
	return nil
}

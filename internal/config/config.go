// Package config holds the cjls configuration: CLI options, the optional
// yaml config file and the environment the toolchain is discovered from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cjls configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// CachePath roots the on-disk index and crash reports.
	CachePath string `yaml:"cache_path"`

	// Pools sizes the feature worker pools; 0 means available cores.
	Pools PoolsConfig `yaml:"pools"`

	// DisableIncremental turns the AST-cache fast path off.
	DisableIncremental bool `yaml:"disable_incremental"`

	// ShutdownGrace bounds the clean-shutdown window after exit.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// Toolchain discovery, from CANGJIE_PATH / CANGJIE_HOME.
	CangjiePath string `yaml:"cangjie_path"`
	CangjieHome string `yaml:"cangjie_home"`
}

// LoggingConfig controls the category file logger.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Level   string `yaml:"level"`
}

// PoolsConfig sizes the feature pools.
type PoolsConfig struct {
	General    int `yaml:"general"`
	Completion int `yaml:"completion"`
	Signature  int `yaml:"signature_help"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "cjls",
		Version: "1.0.0",
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
		},
		ShutdownGrace: 5 * time.Second,
	}
}

// Load overlays the yaml file (when present) and the environment onto the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv consumes CANGJIE_PATH and CANGJIE_HOME.
func (c *Config) applyEnv() {
	if v := os.Getenv("CANGJIE_PATH"); v != "" {
		c.CangjiePath = v
	}
	if v := os.Getenv("CANGJIE_HOME"); v != "" {
		c.CangjieHome = v
	}
	if c.CachePath == "" {
		if c.CangjieHome != "" {
			c.CachePath = c.CangjieHome
		} else if home, err := os.UserHomeDir(); err == nil {
			c.CachePath = filepath.Join(home, ".cjls")
		}
	}
}

// LogDir is where category log files land.
func (c *Config) LogDir() string {
	if c.Logging.Path != "" {
		return c.Logging.Path
	}
	return filepath.Join(c.CachePath, ".cache", "logs")
}

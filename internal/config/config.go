// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package config loads the juliaexec configuration file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the juliaexec configuration.
type Config struct {
	Julia  JuliaConfig  `yaml:"julia"`
	Engine EngineConfig `yaml:"engine"`
	Log    LogConfig    `yaml:"log"`
}

// JuliaConfig selects and starts the julia process.
type JuliaConfig struct {
	Binary  string   `yaml:"binary"`  // julia executable, empty for <home>/bin/julia or PATH
	Home    string   `yaml:"home"`    // julia installation directory
	Threads int      `yaml:"threads"` // 0 for the julia default
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"` // KEY=VALUE entries
}

// EngineConfig configures the engine.
type EngineConfig struct {
	TempDir     string `yaml:"temp_dir"` // directory of the output capture file
	HistoryFile string `yaml:"history_file"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn or error
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "warn"},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Julia.Threads < 0 {
		return fmt.Errorf("julia.threads must not be negative, got %d", c.Julia.Threads)
	}
	for _, kv := range c.Julia.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("julia.env entry %q is not KEY=VALUE", kv)
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", s, err)
	}
	return level, nil
}

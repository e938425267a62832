// Package config loads Planvault configuration from
// $PLANVAULT_HOME/config.yaml with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/planvault/internal/otel"
)

// Config holds all process configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	// DBPath overrides the default database location
	// ($PLANVAULT_HOME/planvault.db).
	DBPath string `yaml:"db_path"`

	LogLevel string `yaml:"log_level"`

	// Quiet suppresses the stdout log mirror; the adapter uses stdout
	// for its protocol stream, so serve mode forces this on.
	Quiet bool `yaml:"quiet"`

	OTel otel.Config `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		OTel: otel.Config{
			Enabled:  false,
			Exporter: "otlp-http",
		},
	}
}

// HomeDir returns $PLANVAULT_HOME or ~/.planvault.
func HomeDir() string {
	if dir := strings.TrimSpace(os.Getenv("PLANVAULT_HOME")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".planvault")
}

// ConfigPath returns the path of config.yaml under homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml (if present), applies env overrides, and
// returns the effective configuration. A missing file is not an error.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create planvault home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PLANVAULT_DB")); v != "" {
		cfg.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PLANVAULT_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("PLANVAULT_OTEL_ENDPOINT")); v != "" {
		cfg.OTel.Endpoint = v
		cfg.OTel.Enabled = true
	}
}

func normalize(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "planvault.db")
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.OTel.Exporter == "" {
		cfg.OTel.Exporter = "otlp-http"
	}
}

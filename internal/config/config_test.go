package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLANVAULT_HOME", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HomeDir != dir {
		t.Fatalf("home = %q, want %q", cfg.HomeDir, dir)
	}
	if cfg.DBPath != filepath.Join(dir, "planvault.db") {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.OTel.Enabled {
		t.Fatal("otel should default to disabled")
	}
}

func TestLoad_ReadsYAMLAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLANVAULT_HOME", dir)

	yaml := `
log_level: DEBUG
db_path: /tmp/custom.db
otel:
  enabled: true
  exporter: stdout
`
	if err := os.WriteFile(ConfigPath(dir), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.LogLevel)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if !cfg.OTel.Enabled || cfg.OTel.Exporter != "stdout" {
		t.Fatalf("otel = %+v", cfg.OTel)
	}
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLANVAULT_HOME", dir)
	t.Setenv("PLANVAULT_DB", "/tmp/env.db")
	t.Setenv("PLANVAULT_LOG_LEVEL", "warn")

	if err := os.WriteFile(ConfigPath(dir), []byte("db_path: /tmp/file.db\nlog_level: error\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("db path = %q, want env override", cfg.DBPath)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log level = %q, want warn", cfg.LogLevel)
	}
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLANVAULT_HOME", dir)

	if err := os.WriteFile(ConfigPath(dir), []byte("log_level: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

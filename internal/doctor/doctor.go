// Package doctor runs environment diagnostics for the planvault CLI.
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/planvault/internal/config"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkHomeDir,
		checkDatabase,
		checkJournalMode,
		checkReferences,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if _, err := os.Stat(config.ConfigPath(cfg.HomeDir)); os.IsNotExist(err) {
		return CheckResult{Name: "Config", Status: "WARN",
			Message: "config.yaml missing; defaults in effect",
			Detail:  "Run `planvault init` to write a starter config"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkHomeDir(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Home", Status: "SKIP", Message: "Config missing"}
	}
	probe := filepath.Join(cfg.HomeDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{Name: "Home", Status: "FAIL",
			Message: fmt.Sprintf("%s is not writable", cfg.HomeDir),
			Detail:  err.Error()}
	}
	_ = os.Remove(probe)
	return CheckResult{Name: "Home", Status: "PASS", Message: fmt.Sprintf("%s is writable", cfg.HomeDir)}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		return CheckResult{Name: "Database", Status: "WARN",
			Message: fmt.Sprintf("%s does not exist yet", cfg.DBPath),
			Detail:  "It is created on first `planvault init` or `planvault serve`"}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?mode=ro")
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: "Cannot open database", Detail: err.Error()}
	}
	defer db.Close()

	var version int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&version)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL",
			Message: "Schema ledger unreadable", Detail: err.Error()}
	}
	return CheckResult{Name: "Database", Status: "PASS",
		Message: fmt.Sprintf("Schema at version %d", version)}
}

func checkJournalMode(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Journal", Status: "SKIP", Message: "Config missing"}
	}
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		return CheckResult{Name: "Journal", Status: "SKIP", Message: "Database missing"}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?mode=ro")
	if err != nil {
		return CheckResult{Name: "Journal", Status: "FAIL", Message: "Cannot open database", Detail: err.Error()}
	}
	defer db.Close()

	var mode string
	if err := db.QueryRowContext(ctx, `PRAGMA journal_mode;`).Scan(&mode); err != nil {
		return CheckResult{Name: "Journal", Status: "FAIL", Message: "PRAGMA journal_mode failed", Detail: err.Error()}
	}
	if mode != "wal" {
		return CheckResult{Name: "Journal", Status: "WARN",
			Message: fmt.Sprintf("journal_mode is %q, expected wal", mode),
			Detail:  "The store enables WAL on open; a different mode suggests outside interference"}
	}
	return CheckResult{Name: "Journal", Status: "PASS", Message: "WAL enabled"}
}

// checkReferences looks for orphaned rows. The schema cascades deletes,
// so any hit means the database was modified outside the store.
func checkReferences(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "References", Status: "SKIP", Message: "Config missing"}
	}
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		return CheckResult{Name: "References", Status: "SKIP", Message: "Database missing"}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?mode=ro")
	if err != nil {
		return CheckResult{Name: "References", Status: "FAIL", Message: "Cannot open database", Detail: err.Error()}
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `PRAGMA foreign_key_check;`)
	if err != nil {
		return CheckResult{Name: "References", Status: "FAIL", Message: "foreign_key_check failed", Detail: err.Error()}
	}
	defer rows.Close()

	violations := 0
	for rows.Next() {
		violations++
	}
	if err := rows.Err(); err != nil {
		return CheckResult{Name: "References", Status: "FAIL", Message: "foreign_key_check failed", Detail: err.Error()}
	}
	if violations > 0 {
		return CheckResult{Name: "References", Status: "FAIL",
			Message: fmt.Sprintf("%d orphaned rows", violations),
			Detail:  "Foreign keys were bypassed; history and tasks may reference missing parents"}
	}
	return CheckResult{Name: "References", Status: "PASS", Message: "No orphaned rows"}
}

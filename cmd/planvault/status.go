package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/planvault/internal/config"
)

type statusReport struct {
	DBPath        string         `json:"db_path"`
	SchemaVersion int            `json:"schema_version"`
	Plans         map[string]int `json:"plans"`
	Tasks         map[string]int `json:"tasks"`
	Sessions      int            `json:"sessions"`
}

func runStatusCommand(ctx context.Context, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "no database at %s (run `planvault init` first)\n", cfg.DBPath)
		return 1
	}

	report, err := buildStatusReport(ctx, cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "encode json: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("database: %s (schema v%d)\n", report.DBPath, report.SchemaVersion)
	fmt.Printf("sessions: %d\n", report.Sessions)
	fmt.Println("plans:")
	for _, status := range []string{"draft", "active", "completed", "archived"} {
		fmt.Printf("  %-11s %d\n", status, report.Plans[status])
	}
	fmt.Println("tasks:")
	for _, status := range []string{"pending", "in_progress", "completed", "failed"} {
		fmt.Printf("  %-11s %d\n", status, report.Tasks[status])
	}
	return 0
}

func buildStatusReport(ctx context.Context, dbPath string) (*statusReport, error) {
	db, err := sql.Open("sqlite3", dbPath+"?mode=ro")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	report := &statusReport{
		DBPath: dbPath,
		Plans:  map[string]int{},
		Tasks:  map[string]int{},
	}

	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&report.SchemaVersion); err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT session_id) FROM plans;`).Scan(&report.Sessions); err != nil {
		return nil, fmt.Errorf("session count: %w", err)
	}

	if err := countByStatus(ctx, db, "plans", report.Plans); err != nil {
		return nil, err
	}
	if err := countByStatus(ctx, db, "tasks", report.Tasks); err != nil {
		return nil, err
	}
	return report, nil
}

func countByStatus(ctx context.Context, db *sql.DB, table string, out map[string]int) error {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status;`, table))
	if err != nil {
		return fmt.Errorf("count %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return fmt.Errorf("scan %s counts: %w", table, err)
		}
		out[status] = n
	}
	return rows.Err()
}

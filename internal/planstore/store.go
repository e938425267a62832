// Package planstore is the persistence core for plans, tasks, and their
// status histories. A single Store owns the SQLite database; every
// status-affecting mutation commits the row update and exactly one
// history row in the same transaction.
package planstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/planvault/internal/bus"
	"github.com/basket/planvault/internal/lifecycle"
	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersionV1  = 1
	schemaChecksumV1 = "pv-v1-2026-08-20-plan-task-schema"

	schemaVersionLatest  = schemaVersionV1
	schemaChecksumLatest = schemaChecksumV1

	// DefaultPriority is assigned when a task spec omits priority.
	DefaultPriority = "medium"

	// SystemActor is recorded as changed_by for mutations not attributed
	// to a caller session.
	SystemActor = "system"
)

// Plan is a unit of work owned by one session within one project.
type Plan struct {
	ID          int64                `json:"id"`
	ProjectID   string               `json:"project_id"`
	SessionID   string               `json:"session_id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Status      lifecycle.PlanStatus `json:"status"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Task is a unit of work belonging to exactly one plan.
type Task struct {
	ID          int64                `json:"id"`
	PlanID      int64                `json:"plan_id"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Priority    string               `json:"priority"`
	Status      lifecycle.TaskStatus `json:"status"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// TaskSpec describes a task to create alongside a plan.
type TaskSpec struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PlanHistoryEntry is one immutable plan status transition.
// OldStatus is empty for the initial row.
type PlanHistoryEntry struct {
	ID        int64     `json:"id"`
	PlanID    int64     `json:"plan_id"`
	OldStatus string    `json:"old_status,omitempty"`
	NewStatus string    `json:"new_status"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
	Reason    string    `json:"reason,omitempty"`
}

// TaskHistoryEntry is one immutable task status transition.
type TaskHistoryEntry struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	OldStatus string    `json:"old_status,omitempty"`
	NewStatus string    `json:"new_status"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
	Reason    string    `json:"reason,omitempty"`
}

// Store owns the SQLite database. It is the sole writer of plans,
// tasks, and history rows.
type Store struct {
	db  *sql.DB
	bus *bus.Bus // may be nil in tests
}

// DefaultDBPath returns ~/.planvault/planvault.db.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".planvault", "planvault.db")
}

// Open opens (creating if needed) the database at path, configures
// pragmas, and provisions the schema. eventBus may be nil.
func Open(path string, eventBus *bus.Bus) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, bus: eventBus}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

// statusCheck renders an IN(...) CHECK list from the lifecycle status
// sets, so the storage constraint can never drift from the validator.
func statusCheck(statuses []string) string {
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + s + "'"
	}
	return strings.Join(quoted, ", ")
}

func planStatusList() []string {
	out := make([]string, 0, 4)
	for _, s := range lifecycle.PlanStatuses() {
		out = append(out, string(s))
	}
	return out
}

func taskStatusList() []string {
	out := make([]string, 0, 4)
	for _, s := range lifecycle.TaskStatuses() {
		out = append(out, string(s))
	}
	return out
}

// EnsureSchema provisions tables, constraints, and indexes. It is
// idempotent and safe to invoke on every process start; re-running it
// modifies no data.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}
	if maxVersion == schemaVersionLatest {
		var existingChecksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersionLatest).Scan(&existingChecksum); err != nil {
			return fmt.Errorf("read schema migration checksum: %w", err)
		}
		if existingChecksum != schemaChecksumLatest {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersionLatest, existingChecksum, schemaChecksumLatest)
		}
		return tx.Commit()
	}

	tableStatements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS plans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'draft' CHECK(status IN (%s)),
			metadata JSON NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`, statusCheck(planStatusList())),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id INTEGER NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			description TEXT,
			priority TEXT NOT NULL DEFAULT '%s',
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN (%s)),
			metadata JSON NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`, DefaultPriority, statusCheck(taskStatusList())),
		`CREATE TABLE IF NOT EXISTS plan_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id INTEGER NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			old_status TEXT,
			new_status TEXT NOT NULL,
			changed_by TEXT NOT NULL,
			changed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			reason TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS task_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			old_status TEXT,
			new_status TEXT NOT NULL,
			changed_by TEXT NOT NULL,
			changed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			reason TEXT
		);`,
	}
	for _, stmt := range tableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexStatements := []string{
		// Two concurrent activations for one session must deterministically
		// produce one winner; the application-level check alone cannot
		// guarantee that across a read-then-write gap.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_plans_one_active_per_session
			ON plans(session_id) WHERE status = 'active';`,
		`CREATE INDEX IF NOT EXISTS idx_plans_session_status ON plans(session_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_plans_project_name ON plans(project_id, name);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_plan ON tasks(plan_id);`,
		`CREATE INDEX IF NOT EXISTS idx_plan_history_plan ON plan_history(plan_id);`,
		`CREATE INDEX IF NOT EXISTS idx_task_history_task ON task_history(task_id);`,
	}
	for _, stmt := range indexStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, checksum) VALUES (?, ?)
		ON CONFLICT(version) DO NOTHING;
	`, schemaVersionLatest, schemaChecksumLatest); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using
// exponential backoff with bounded jitter on top of the driver's
// busy_timeout. It never retries a transaction that reached commit.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		// Add jitter: ±25% of delay.
		jitter := time.Duration(rand.Intn(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	// mattn/go-sqlite3 wraps errors as sqlite3.Error with Code field.
	// Check the error string for the code to avoid a direct dependency
	// on the sqlite3 package in non-CGO-importing code paths.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}

// isActiveUniqueViolation detects the partial unique index on
// plans(session_id) WHERE status='active' firing.
func isActiveUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") &&
		(strings.Contains(msg, "plans.session_id") ||
			strings.Contains(msg, "idx_plans_one_active_per_session"))
}

func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", &ValidationError{Field: "metadata", Reason: err.Error()}
	}
	return string(b), nil
}

func unmarshalMetadata(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func (s *Store) publish(topic string, payload any) {
	if s.bus != nil {
		s.bus.Publish(topic, payload)
	}
}

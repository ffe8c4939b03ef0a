package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// migration is one ordered schema change.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Step and task execution log",
		SQL: `
CREATE TABLE IF NOT EXISTS step_executions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    plan_id TEXT NOT NULL,
    step_number INTEGER NOT NULL,
    operation TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    error_message TEXT,
    duration_ns INTEGER NOT NULL DEFAULT 0,
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_step_executions_recorded ON step_executions(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_step_executions_task ON step_executions(task_id);

CREATE TABLE IF NOT EXISTS task_outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    goal TEXT NOT NULL,
    status TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    duration_ns INTEGER NOT NULL DEFAULT 0,
    finished_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_outcomes_finished ON task_outcomes(finished_at DESC);
`,
	},
	{
		Version:     2,
		Description: "Record heal strategy per step",
		SQL:         `ALTER TABLE step_executions ADD COLUMN healed_with TEXT NOT NULL DEFAULT '';`,
	},
}

// SQLiteStore persists history in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and applies
// pending migrations. ":memory:" opens a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &SQLiteStore{db: db, dbPath: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// execWithRetry executes a statement with exponential backoff on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

func (s *SQLiteStore) applyMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := tx.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
			m.Version, time.Now().UnixNano()); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return int(version.Int64), nil
}

// RecordStep inserts a step record and sets its ID.
func (s *SQLiteStore) RecordStep(ctx context.Context, rec *StepRecord) error {
	query := `INSERT INTO step_executions
		(task_id, plan_id, step_number, operation, success, error_message, healed_with, duration_ns, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		rec.TaskID, rec.PlanID, rec.StepNumber, rec.Operation, rec.Success,
		rec.Error, rec.HealedWith, int64(rec.Duration), rec.RecordedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert step execution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// RecordTask inserts a task outcome and sets its ID.
func (s *SQLiteStore) RecordTask(ctx context.Context, rec *TaskRecord) error {
	query := `INSERT INTO task_outcomes
		(task_id, goal, status, success, retry_count, duration_ns, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		rec.TaskID, rec.Goal, rec.Status, rec.Success, rec.RetryCount,
		int64(rec.Duration), rec.FinishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert task outcome: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// StepStats aggregates steps recorded at or after since.
func (s *SQLiteStore) StepStats(ctx context.Context, since time.Time) (StepStats, error) {
	query := `SELECT
		COUNT(CASE WHEN success = 1 THEN 1 END),
		COUNT(CASE WHEN success = 0 THEN 1 END),
		COUNT(CASE WHEN healed_with != '' THEN 1 END),
		COALESCE(AVG(duration_ns), 0)
		FROM step_executions WHERE recorded_at >= ?`

	stats := StepStats{Since: since}
	var mean float64
	err := s.db.QueryRowContext(ctx, query, since.UnixNano()).
		Scan(&stats.Succeeded, &stats.Failed, &stats.Healed, &mean)
	if err != nil {
		return StepStats{}, fmt.Errorf("query step stats: %w", err)
	}
	stats.MeanDuration = time.Duration(mean)
	return stats, nil
}

// RecentTasks returns up to limit task outcomes, newest first.
func (s *SQLiteStore) RecentTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `SELECT id, task_id, goal, status, success, retry_count, duration_ns, finished_at
		FROM task_outcomes ORDER BY finished_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query task outcomes: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var duration, finished int64
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.Goal, &rec.Status, &rec.Success,
			&rec.RetryCount, &duration, &finished); err != nil {
			return nil, fmt.Errorf("scan task outcome: %w", err)
		}
		rec.Duration = time.Duration(duration)
		rec.FinishedAt = time.Unix(0, finished)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task outcomes: %w", err)
	}
	return records, nil
}

// Cleanup removes records older than before and returns how many were deleted.
func (s *SQLiteStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixNano()
	var total int64

	for _, query := range []string{
		`DELETE FROM step_executions WHERE recorded_at < ?`,
		`DELETE FROM task_outcomes WHERE finished_at < ?`,
	} {
		result, err := s.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			return total, fmt.Errorf("cleanup history: %w", err)
		}
		deleted, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("get rows affected: %w", err)
		}
		total += deleted
	}
	return total, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

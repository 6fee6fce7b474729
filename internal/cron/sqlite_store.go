package cron

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteExecutionStore persists execution history in a local SQLite
// database, surviving process restarts.
type SQLiteExecutionStore struct {
	db *sql.DB
}

// NewSQLiteExecutionStore opens and migrates the execution history database
// at path. An empty path opens an in-memory database.
func NewSQLiteExecutionStore(path string) (*SQLiteExecutionStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open execution store: %w", err)
	}
	// A single connection keeps the pure-Go driver away from SQLITE_BUSY
	// under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteExecutionStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteExecutionStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			session_key TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL DEFAULT 0,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			output TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("create executions table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_executions_job ON executions(job_id, started_at)",
		"CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteExecutionStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteExecutionStore) Create(ctx context.Context, exec *JobExecution) error {
	return s.upsert(ctx, exec)
}

func (s *SQLiteExecutionStore) Update(ctx context.Context, exec *JobExecution) error {
	return s.upsert(ctx, exec)
}

func (s *SQLiteExecutionStore) upsert(ctx context.Context, exec *JobExecution) error {
	if exec == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions
			(id, job_id, session_key, status, started_at, completed_at, duration_ns, output, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID,
		exec.JobID,
		exec.SessionKey,
		string(exec.Status),
		timeToNano(exec.StartedAt),
		timeToNano(exec.CompletedAt),
		int64(exec.Duration),
		exec.Output,
		exec.Error,
	)
	if err != nil {
		return fmt.Errorf("store execution: %w", err)
	}
	return nil
}

func (s *SQLiteExecutionStore) Get(ctx context.Context, id string) (*JobExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, session_key, status, started_at, completed_at, duration_ns, output, error
		FROM executions WHERE id = ?
	`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	return exec, nil
}

func (s *SQLiteExecutionStore) List(ctx context.Context, jobID string, limit int) ([]*JobExecution, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, session_key, status, started_at, completed_at, duration_ns, output, error
		FROM executions
		WHERE (? = '' OR job_id = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`, jobID, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var result []*JobExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		result = append(result, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return result, nil
}

func (s *SQLiteExecutionStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM executions WHERE started_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*JobExecution, error) {
	var (
		exec       JobExecution
		status     string
		startedAt  int64
		completed  int64
		durationNs int64
	)
	err := row.Scan(
		&exec.ID,
		&exec.JobID,
		&exec.SessionKey,
		&status,
		&startedAt,
		&completed,
		&durationNs,
		&exec.Output,
		&exec.Error,
	)
	if err != nil {
		return nil, err
	}
	exec.Status = ExecutionStatus(status)
	exec.StartedAt = nanoToTime(startedAt)
	exec.CompletedAt = nanoToTime(completed)
	exec.Duration = time.Duration(durationNs)
	return &exec, nil
}

func timeToNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanoToTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

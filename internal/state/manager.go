// Package state persists the history of backup and install runs in sqlite.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Run kinds
const (
	KindBackup  = "backup"
	KindInstall = "install"
)

// Run statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// DBFileName is the database created in the state directory
const DBFileName = "addonsync.db"

// Run is one recorded backup or install
type Run struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
	Bytes     int64     `json:"bytes"`
	Error     string    `json:"error,omitempty"`
}

// Manager handles run history persistence
type Manager struct {
	db *sql.DB
}

// NewManager opens (creating if needed) the database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	m := &Manager{db: db}
	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return m, nil
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		bytes INTEGER DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_kind_time ON runs(kind, start_time DESC);
	`
	_, err := m.db.Exec(schema)
	return err
}

// Record stores run and returns its id
func (m *Manager) Record(ctx context.Context, run Run) (int64, error) {
	if run.Kind != KindBackup && run.Kind != KindInstall {
		return 0, fmt.Errorf("invalid kind: %s", run.Kind)
	}
	if run.Status != StatusSuccess && run.Status != StatusFailed {
		return 0, fmt.Errorf("invalid status: %s (must be '%s' or '%s')", run.Status, StatusSuccess, StatusFailed)
	}

	res, err := m.db.ExecContext(ctx, `
		INSERT INTO runs (kind, name, start_time, end_time, status, bytes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.Kind, run.Name, run.StartTime.UTC(), run.EndTime.UTC(), run.Status, run.Bytes, run.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}
	return res.LastInsertId()
}

const selectRuns = `SELECT id, kind, name, start_time, end_time, status, bytes, COALESCE(error, '') FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	err := s.Scan(&r.ID, &r.Kind, &r.Name, &r.StartTime, &r.EndTime, &r.Status, &r.Bytes, &r.Error)
	return r, err
}

// History returns the newest runs of kind ("" for all kinds)
func (m *Manager) History(ctx context.Context, kind string, limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = m.db.QueryContext(ctx, selectRuns+` ORDER BY start_time DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = m.db.QueryContext(ctx, selectRuns+` WHERE kind = ? ORDER BY start_time DESC, id DESC LIMIT ?`, kind, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// LastSuccess returns the latest successful run of kind, nil if none
func (m *Manager) LastSuccess(ctx context.Context, kind string) (*Run, error) {
	row := m.db.QueryRowContext(ctx, selectRuns+` WHERE kind = ? AND status = ? ORDER BY start_time DESC, id DESC LIMIT 1`, kind, StatusSuccess)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	return &r, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

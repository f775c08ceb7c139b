// Package manifest records run outcomes in a sqlite database: which run
// produced which outputs, and which work units failed and why. Units are
// recorded as they finish, so a crashed run still leaves an inspectable
// trail.
package manifest

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Register driver
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Manifest wraps the sql.DB connection.
type Manifest struct {
	*sql.DB
}

// UnitResult is the recorded outcome of one work unit (a turbine gid or a
// mosaic block name).
type UnitResult struct {
	Unit   string
	Status string
	Error  string
}

// Open opens the manifest database and runs migrations.
func Open(path string) (*Manifest, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping manifest db: %w", err)
	}

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	m := &Manifest{db}
	// Enforce single connection to avoid SQLITE_BUSY errors during concurrent writes
	db.SetMaxOpenConns(1)

	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return m, nil
}

func (m *Manifest) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS units (
			run_id TEXT NOT NULL,
			unit TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			finished_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, unit)
		);`,
	}
	for _, q := range queries {
		if _, err := m.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}
	return nil
}

// BeginRun creates a new run record and returns its id.
func (m *Manifest) BeginRun(kind string) (string, error) {
	id := uuid.NewString()
	_, err := m.Exec("INSERT INTO runs (id, kind, status) VALUES (?, ?, ?)", id, kind, StatusRunning)
	if err != nil {
		return "", fmt.Errorf("failed to begin run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run completed or failed.
func (m *Manifest) FinishRun(runID, status string) error {
	deadline := time.Now().UTC().Format("2006-01-02 15:04:05")
	_, err := m.Exec("UPDATE runs SET status = ?, finished_at = ? WHERE id = ?", status, deadline, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RecordUnit records the outcome of one work unit. A nil unitErr marks the
// unit completed; otherwise it is marked failed with the error text.
func (m *Manifest) RecordUnit(runID, unit string, unitErr error) error {
	status := StatusCompleted
	errText := ""
	if unitErr != nil {
		status = StatusFailed
		errText = unitErr.Error()
	}
	_, err := m.Exec(
		"INSERT OR REPLACE INTO units (run_id, unit, status, error) VALUES (?, ?, ?, ?)",
		runID, unit, status, errText)
	if err != nil {
		return fmt.Errorf("failed to record unit %s: %w", unit, err)
	}
	return nil
}

// FailedUnits returns the failed units of a run sorted by unit name.
func (m *Manifest) FailedUnits(runID string) ([]UnitResult, error) {
	rows, err := m.Query(
		"SELECT unit, status, error FROM units WHERE run_id = ? AND status = ? ORDER BY unit",
		runID, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed units: %w", err)
	}
	defer rows.Close()

	var out []UnitResult
	for rows.Next() {
		var u UnitResult
		if err := rows.Scan(&u.Unit, &u.Status, &u.Error); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// RunStatus returns the status of a run.
func (m *Manifest) RunStatus(runID string) (string, error) {
	var status string
	err := m.QueryRow("SELECT status FROM runs WHERE id = ?", runID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	return status, nil
}

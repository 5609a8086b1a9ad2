package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/typegen/internal/apperr"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusEmpty     = "empty"
)

// RunRow represents a row in the runs table.
type RunRow struct {
	ID         int64      `json:"id"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	Models     int        `json:"models"`
	Failures   int        `json:"failures"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// OutputRow represents a generated file.
type OutputRow struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Models    []string  `json:"models"`
	RunID     int64     `json:"runId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the history interface used by the pipeline and the API layers.
type Store interface {
	BeginRun(trigger string, at time.Time) (int64, error)
	FinishRun(id int64, status string, models, failures int, runErr string, at time.Time) error
	RecordOutput(o OutputRow) error
	LastRun() (*RunRow, error)
	ListRuns(limit int) ([]RunRow, error)
	Outputs() ([]OutputRow, error)
	OutputChecksum(path string) (string, error)
}

var _ Store = (*DB)(nil)

// BeginRun inserts a running row and returns its id.
func (db *DB) BeginRun(trigger string, at time.Time) (int64, error) {
	res, err := db.conn.Exec(`INSERT INTO runs (source, status, started_at) VALUES (?, ?, ?)`,
		trigger, StatusRunning, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("history: begin run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stores the final status of a run.
func (db *DB) FinishRun(id int64, status string, models, failures int, runErr string, at time.Time) error {
	_, err := db.conn.Exec(`
		UPDATE runs
		SET status = ?, models = ?, failures = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, models, failures, runErr, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("history: finish run: %w", err)
	}
	return nil
}

// RecordOutput upserts the checksum of a generated file.
func (db *DB) RecordOutput(o OutputRow) error {
	modelsJSON, _ := json.Marshal(o.Models)
	_, err := db.conn.Exec(`
		INSERT INTO outputs (path, checksum, models, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum   = excluded.checksum,
			models     = excluded.models,
			run_id     = excluded.run_id,
			updated_at = excluded.updated_at
	`, o.Path, o.Checksum, string(modelsJSON), o.RunID, o.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("history: record output: %w", err)
	}
	return nil
}

// LastRun returns the most recent run, or apperr.ErrNotFound.
func (db *DB) LastRun() (*RunRow, error) {
	rows, err := db.ListRuns(1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.ErrNotFound
	}
	return &rows[0], nil
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, source, status, models, failures, error, started_at, finished_at
		FROM runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Status, &r.Models, &r.Failures, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Outputs returns every recorded output ordered by path.
func (db *DB) Outputs() ([]OutputRow, error) {
	rows, err := db.conn.Query(`SELECT path, checksum, models, run_id, updated_at FROM outputs ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("history: outputs: %w", err)
	}
	defer rows.Close()

	var out []OutputRow
	for rows.Next() {
		var o OutputRow
		var modelsJSON string
		if err := rows.Scan(&o.Path, &o.Checksum, &modelsJSON, &o.RunID, &o.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(modelsJSON), &o.Models)
		out = append(out, o)
	}
	return out, rows.Err()
}

// OutputChecksum returns the recorded checksum for path, or "" if unknown.
func (db *DB) OutputChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM outputs WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("history: output checksum: %w", err)
	}
	return cs, nil
}

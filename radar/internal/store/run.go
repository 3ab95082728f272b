package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRun opens a new ledger entry in the running state with the config
// snapshot captured verbatim.
func (s *Store) CreateRun(ctx context.Context, id, configJSON string, startedAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, config_json, status)
		VALUES (?,?,?,?)`, id, ms(startedAt), configJSON, string(RunRunning))
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

// AddCounts atomically increments the run's stage counters.
func (s *Store) AddCounts(ctx context.Context, runID string, delta Counts) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE runs SET
			fetched       = fetched + ?,
			deduped       = deduped + ?,
			extracted     = extracted + ?,
			clustered     = clustered + ?,
			alerts_raised = alerts_raised + ?,
			failed_items  = failed_items + ?
		WHERE id = ? AND status = 'running'`,
		delta.Fetched, delta.Deduped, delta.Extracted, delta.Clustered,
		delta.AlertsRaised, delta.FailedItems, runID)
	if err != nil {
		return fmt.Errorf("store: add counts: %w", err)
	}
	return nil
}

// FinishRun transitions a running run to completed or failed. Terminal
// states are immutable: a second transition is rejected.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus, runErr string, at time.Time) error {
	if status != RunCompleted && status != RunFailed {
		return fmt.Errorf("store: invalid terminal status %q", status)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status = 'running'`,
		string(status), runErr, ms(at), runID)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: run %s is not running", runID)
	}
	return nil
}

// Run fetches one ledger entry.
func (s *Store) Run(ctx context.Context, id string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, config_json,
		       fetched, deduped, extracted, clustered, alerts_raised, failed_items,
		       status, error
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// Runs returns the most recent runs, newest first. limit <= 0 means no cap.
func (s *Store) Runs(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, started_at, completed_at, config_json,
		       fetched, deduped, extracted, clustered, alerts_raised, failed_items,
		       status, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var started int64
	var completed sql.NullInt64
	var status string
	err := row.Scan(&r.ID, &started, &completed, &r.ConfigSnapshot,
		&r.Counts.Fetched, &r.Counts.Deduped, &r.Counts.Extracted,
		&r.Counts.Clustered, &r.Counts.AlertsRaised, &r.Counts.FailedItems,
		&status, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan run: %w", err)
	}
	r.StartedAt = fromMS(started)
	if completed.Valid {
		r.CompletedAt = fromMS(completed.Int64)
	}
	r.Status = RunStatus(status)
	return &r, nil
}

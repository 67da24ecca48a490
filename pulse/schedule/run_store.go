package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
)

// RunStore handles persistence of scheduler pass history
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new run store
func NewRunStore(conn *sql.DB) *RunStore {
	return &RunStore{db: conn}
}

// CreateRun inserts the starting record of a pass
func (s *RunStore) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_runs (id, trigger, started_at)
		VALUES (?, ?, ?)`,
		run.ID, string(run.Trigger), db.FormatTime(run.StartedAt))
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler run")
	}
	return nil
}

// CompleteRun records the outcome of a pass
func (s *RunStore) CompleteRun(ctx context.Context, run *Run) error {
	var errorMessage sql.NullString
	if run.ErrorMessage != "" {
		errorMessage = sql.NullString{String: run.ErrorMessage, Valid: true}
	}
	var durationMs sql.NullInt64
	if run.DurationMs != nil {
		durationMs = sql.NullInt64{Int64: *run.DurationMs, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_runs
		SET completed_at = ?,
		    processed_jobs = ?,
		    succeeded = ?,
		    failed = ?,
		    retried = ?,
		    duration_ms = ?,
		    error_message = ?
		WHERE id = ?`,
		db.NullTime(run.CompletedAt),
		run.ProcessedJobs,
		run.Succeeded,
		run.Failed,
		run.Retried,
		durationMs,
		errorMessage,
		run.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to complete scheduler run")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError("scheduler run not found: %s", run.ID)
	}
	return nil
}

const runColumns = `id, trigger, started_at, completed_at, processed_jobs,
	succeeded, failed, retried, duration_ms, error_message`

// GetRun retrieves a run by ID
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM scheduler_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("scheduler run not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get scheduler run")
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM scheduler_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduler runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan scheduler run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating scheduler runs")
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run          Run
		trigger      string
		startedAt    string
		completedAt  sql.NullString
		durationMs   sql.NullInt64
		errorMessage sql.NullString
	)
	err := row.Scan(
		&run.ID,
		&trigger,
		&startedAt,
		&completedAt,
		&run.ProcessedJobs,
		&run.Succeeded,
		&run.Failed,
		&run.Retried,
		&durationMs,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	run.Trigger = Trigger(trigger)
	if run.StartedAt, err = db.ParseTime(startedAt); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = db.ParseNullTime(completedAt); err != nil {
		return nil, err
	}
	if durationMs.Valid {
		d := durationMs.Int64
		run.DurationMs = &d
	}
	run.ErrorMessage = errorMessage.String
	return &run, nil
}

// completeAt fills the closing fields of run
func (run *Run) completeAt(at time.Time, elapsed time.Duration) {
	completed := at
	ms := elapsed.Milliseconds()
	run.CompletedAt = &completed
	run.DurationMs = &ms
}

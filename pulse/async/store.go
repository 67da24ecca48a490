package async

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
)

// JobStore is what the Runner needs from persistence.
type JobStore interface {
	// FindDueJobs returns pending jobs with scheduled_for <= now, ordered by
	// (priority ASC, scheduled_for ASC), at most limit.
	FindDueJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	// Claim moves one job pending -> running. It returns false when another
	// caller got there first.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	UpdateJob(ctx context.Context, id string, patch JobPatch) error
	AppendLog(ctx context.Context, jobID string, level LogLevel, message string, data map[string]any) error
}

// Clock returns the current time. Tests inject a fixed one.
type Clock func() time.Time

// Store persists jobs and job logs in SQLite
type Store struct {
	db    *sql.DB
	clock Clock
}

// NewStore creates a new job store
func NewStore(conn *sql.DB) *Store {
	return NewStoreWithClock(conn, time.Now)
}

// NewStoreWithClock creates a store that stamps log entries with clock.
func NewStoreWithClock(conn *sql.DB, clock Clock) *Store {
	return &Store{db: conn, clock: clock}
}

// DB exposes the underlying handle for handlers that share it
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateJob inserts a new job
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, type, status, priority, scheduled_for,
			started_at, completed_at, progress, parameters, result,
			error_message, retry_count, max_retries, next_retry_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Type,
		job.Status,
		job.Priority,
		db.FormatTime(job.ScheduledFor),
		db.NullTime(job.StartedAt),
		db.NullTime(job.CompletedAt),
		job.Progress,
		nullJSON(job.Parameters),
		nullJSON(job.Result),
		sql.NullString{String: job.ErrorMessage, Valid: job.ErrorMessage != ""},
		job.RetryCount,
		job.MaxRetries,
		db.NullTime(job.NextRetryAt),
		db.FormatTime(job.CreatedAt),
		db.FormatTime(job.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobSelectColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// FindDueJobs implements JobStore
func (s *Store) FindDueJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultClaimLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobSelectColumns+`
		FROM jobs
		WHERE status = 'pending' AND scheduled_for <= ?
		ORDER BY priority ASC, scheduled_for ASC
		LIMIT ?`,
		db.FormatTime(now), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query due jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Claim implements JobStore with a conditional update: only the caller whose
// UPDATE affects the row owns the job.
func (s *Store) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	ts := db.FormatTime(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running', started_at = ?, progress = 0, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		ts, ts, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "failed to read claim result for job %s", id)
	}
	return n == 1, nil
}

// UpdateJob implements JobStore
func (s *Store) UpdateJob(ctx context.Context, id string, patch JobPatch) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{db.FormatTime(patch.UpdatedAt)}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *patch.Progress)
	}
	if patch.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(patch.Result))
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *patch.ErrorMessage)
	}
	if patch.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *patch.RetryCount)
	}
	if patch.ScheduledFor != nil {
		sets = append(sets, "scheduled_for = ?")
		args = append(args, db.FormatTime(*patch.ScheduledFor))
	}
	if patch.NextRetryAt != nil {
		sets = append(sets, "next_retry_at = ?")
		args = append(args, db.FormatTime(*patch.NextRetryAt))
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, db.FormatTime(*patch.StartedAt))
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, db.FormatTime(*patch.CompletedAt))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("job %s", id)
	}
	return nil
}

// AppendLog implements JobStore
func (s *Store) AppendLog(ctx context.Context, jobID string, level LogLevel, message string, data map[string]any) error {
	var metadata sql.NullString
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return errors.Wrap(err, "failed to marshal log metadata")
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, timestamp, level, message, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		jobID, db.FormatTime(s.clock()), level, message, metadata)
	if err != nil {
		return errors.Wrapf(err, "failed to append log for job %s", jobID)
	}
	return nil
}

// ListLogs returns a job's log entries oldest first
func (s *Store) ListLogs(ctx context.Context, jobID string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, timestamp, level, message, metadata
		FROM job_logs WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query logs for job %s", jobID)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var ts string
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.JobID, &ts, &e.Level, &e.Message, &metadata); err != nil {
			return nil, errors.Wrap(err, "failed to scan job log")
		}
		if e.Timestamp, err = db.ParseTime(ts); err != nil {
			return nil, err
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, errors.Wrapf(err, "invalid metadata on log %d", e.ID)
			}
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "failed to iterate job logs")
}

// ListFilter narrows ListJobs. Zero values match everything.
type ListFilter struct {
	Status JobStatus
	Type   JobType
	Limit  int
}

// ListJobs returns jobs newest first
func (s *Store) ListJobs(ctx context.Context, filter ListFilter) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE 1=1`
	var args []interface{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

// RecoverStale returns running jobs whose claim is older than lease to
// pending so the next claim picks them up again. Each recovered job gets a
// log entry. It returns the recovered IDs.
func (s *Store) RecoverStale(ctx context.Context, now time.Time, lease time.Duration) ([]string, error) {
	if lease <= 0 {
		return nil, nil
	}
	cutoff := db.FormatTime(now.Add(-lease))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs WHERE status = 'running' AND started_at < ? ORDER BY started_at`, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find stale jobs")
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan stale job")
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate stale jobs")
	}

	var recovered []string
	for _, id := range stale {
		// Same conditional shape as Claim: a job that finished meanwhile is left alone
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'pending', scheduled_for = ?, updated_at = ?
			WHERE id = ? AND status = 'running' AND started_at < ?`,
			db.FormatTime(now), db.FormatTime(now), id, cutoff)
		if err != nil {
			return recovered, errors.Wrapf(err, "failed to recover job %s", id)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			continue
		}
		recovered = append(recovered, id)
		if err := s.AppendLog(ctx, id, LogLevelInfo, "recovered", map[string]any{
			"reason":        "lease expired",
			"lease_seconds": int(lease.Seconds()),
		}); err != nil {
			return recovered, err
		}
	}
	return recovered, nil
}

// StatusCount is one (type, status) bucket
type StatusCount struct {
	Type   JobType   `json:"type"`
	Status JobStatus `json:"status"`
	Count  int       `json:"count"`
}

// CountActive counts jobs of jobType that are pending or running, including
// pending jobs waiting out a retry backoff
func (s *Store) CountActive(ctx context.Context, jobType JobType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE type = ? AND status IN (?, ?)`,
		jobType, JobStatusPending, JobStatusRunning).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count active %s jobs", jobType)
	}
	return n, nil
}

// CountByTypeAndStatus aggregates all jobs
func (s *Store) CountByTypeAndStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, status, COUNT(*) FROM jobs GROUP BY type, status ORDER BY type, status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Type, &c.Status, &c.Count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts = append(counts, c)
	}
	return counts, errors.Wrap(rows.Err(), "failed to iterate job counts")
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return jobs, nil
}

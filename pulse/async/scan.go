package async

import (
	"database/sql"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
)

// jobScanArgs holds the nullable and text-encoded columns of a job row
type jobScanArgs struct {
	ScheduledFor string
	StartedAt    sql.NullString
	CompletedAt  sql.NullString
	Parameters   sql.NullString
	Result       sql.NullString
	ErrorMessage sql.NullString
	NextRetryAt  sql.NullString
	CreatedAt    string
	UpdatedAt    string
}

// jobSelectColumns is the column list every job SELECT uses, in scan order
const jobSelectColumns = `id, type, status, priority, scheduled_for,
		started_at, completed_at, progress, parameters, result,
		error_message, retry_count, max_retries, next_retry_at,
		created_at, updated_at`

func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Type,
		&job.Status,
		&job.Priority,
		&args.ScheduledFor,
		&args.StartedAt,
		&args.CompletedAt,
		&job.Progress,
		&args.Parameters,
		&args.Result,
		&args.ErrorMessage,
		&job.RetryCount,
		&job.MaxRetries,
		&args.NextRetryAt,
		&args.CreatedAt,
		&args.UpdatedAt,
	}
}

func processJobScanArgs(job *Job, args *jobScanArgs) error {
	var err error
	if job.ScheduledFor, err = db.ParseTime(args.ScheduledFor); err != nil {
		return errors.Wrapf(err, "job %s scheduled_for", job.ID)
	}
	if job.CreatedAt, err = db.ParseTime(args.CreatedAt); err != nil {
		return errors.Wrapf(err, "job %s created_at", job.ID)
	}
	if job.UpdatedAt, err = db.ParseTime(args.UpdatedAt); err != nil {
		return errors.Wrapf(err, "job %s updated_at", job.ID)
	}
	if job.StartedAt, err = db.ParseNullTime(args.StartedAt); err != nil {
		return errors.Wrapf(err, "job %s started_at", job.ID)
	}
	if job.CompletedAt, err = db.ParseNullTime(args.CompletedAt); err != nil {
		return errors.Wrapf(err, "job %s completed_at", job.ID)
	}
	if job.NextRetryAt, err = db.ParseNullTime(args.NextRetryAt); err != nil {
		return errors.Wrapf(err, "job %s next_retry_at", job.ID)
	}

	if args.Parameters.Valid {
		job.Parameters = []byte(args.Parameters.String)
	}
	if args.Result.Valid {
		job.Result = []byte(args.Result.String)
	}
	if args.ErrorMessage.Valid {
		job.ErrorMessage = args.ErrorMessage.String
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans one job from a *sql.Row or *sql.Rows
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	args := &jobScanArgs{}
	if err := row.Scan(jobScanTargets(&job, args)...); err != nil {
		return nil, err
	}
	if err := processJobScanArgs(&job, args); err != nil {
		return nil, err
	}
	return &job, nil
}

func nullJSON(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

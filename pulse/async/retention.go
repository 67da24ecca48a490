package async

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

// RetentionResult is the retention_cleanup job result
type RetentionResult struct {
	DeletedJobs int64     `json:"deleted_jobs"`
	DeletedLogs int64     `json:"deleted_logs"`
	Cutoff      time.Time `json:"cutoff"`
}

// DeleteCompletedBefore removes completed jobs finished before cutoff, with
// their logs, in one transaction. Pending, running and failed jobs are kept.
func (s *Store) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (RetentionResult, error) {
	result := RetentionResult{Cutoff: cutoff}
	ts := db.FormatTime(cutoff)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, errors.Wrap(err, "failed to begin retention transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM job_logs WHERE job_id IN (
			SELECT id FROM jobs WHERE status = 'completed' AND completed_at < ?
		)`, ts)
	if err != nil {
		return result, errors.Wrap(err, "failed to delete job logs")
	}
	if result.DeletedLogs, err = res.RowsAffected(); err != nil {
		return result, errors.Wrap(err, "failed to count deleted logs")
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE status = 'completed' AND completed_at < ?`, ts)
	if err != nil {
		return result, errors.Wrap(err, "failed to delete completed jobs")
	}
	if result.DeletedJobs, err = res.RowsAffected(); err != nil {
		return result, errors.Wrap(err, "failed to count deleted jobs")
	}

	if err := tx.Commit(); err != nil {
		return result, errors.Wrap(err, "failed to commit retention cleanup")
	}
	return result, nil
}

// RetentionHandler serves retention_cleanup jobs
type RetentionHandler struct {
	store       *Store
	defaultDays int
	log         *zap.SugaredLogger
}

// NewRetentionHandler creates the handler. defaultDays applies when the job's
// parameters leave older_than_days unset.
func NewRetentionHandler(store *Store, defaultDays int, log *zap.SugaredLogger) *RetentionHandler {
	if log == nil {
		log = logger.Logger
	}
	return &RetentionHandler{store: store, defaultDays: defaultDays, log: log.Named("retention")}
}

func (h *RetentionHandler) JobType() JobType { return JobTypeRetentionCleanup }

func (h *RetentionHandler) Execute(ctx context.Context, job *Job) (any, error) {
	params, err := DecodeParams[RetentionCleanupParams](job)
	if err != nil {
		return nil, err
	}

	days := params.OlderThanDays
	if days <= 0 {
		days = h.defaultDays
	}
	if days <= 0 {
		return nil, errors.NewInvalidRequestError("retention window must be positive, got %d days", days)
	}

	cutoff := job.ClaimedAt().AddDate(0, 0, -days)
	result, err := h.store.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	h.log.Infow("Retention cleanup finished",
		"deleted_jobs", result.DeletedJobs,
		"deleted_logs", result.DeletedLogs,
		"cutoff", cutoff,
	)
	return result, nil
}

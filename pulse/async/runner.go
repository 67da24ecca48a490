package async

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

// ExecutionResult is the outcome of one attempt, as reported by the scheduler
type ExecutionResult struct {
	JobID     string          `json:"jobId"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	WillRetry bool            `json:"willRetry"`
}

// Runner claims due jobs and executes them through a HandlerRegistry
type Runner struct {
	store           JobStore
	registry        *HandlerRegistry
	metrics         *Metrics
	log             *zap.SugaredLogger
	clock           Clock
	failFastUnknown bool
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithMetrics records claims and outcomes in m
func WithMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the runner's logger
func WithLogger(log *zap.SugaredLogger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// WithClock sets the clock used for completion and backoff timestamps
func WithClock(clock Clock) RunnerOption {
	return func(r *Runner) { r.clock = clock }
}

// WithFailFastUnknownTypes makes a job with no registered handler fail
// terminally on its first attempt instead of burning its retries.
func WithFailFastUnknownTypes(enabled bool) RunnerOption {
	return func(r *Runner) { r.failFastUnknown = enabled }
}

// NewRunner creates a runner over store and registry
func NewRunner(store JobStore, registry *HandlerRegistry, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    store,
		registry: registry,
		log:      logger.Logger,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.AddPulseSymbol(r.log.Named("runner"))
	return r
}

// ClaimBatch claims up to limit due jobs (DefaultClaimLimit when limit <= 0)
// and returns them already marked running with StartedAt = now. A job lost to
// a concurrent claimer is skipped, so two callers never receive the same job.
//
// On a store error the jobs claimed so far are returned with the error; they
// are running and must still be executed.
func (r *Runner) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultClaimLimit
	}

	candidates, err := r.store.FindDueJobs(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	claimed := make([]*Job, 0, len(candidates))
	for _, job := range candidates {
		ok, err := r.store.Claim(ctx, job.ID, now)
		if err != nil {
			r.metrics.recordClaimed(len(claimed))
			return claimed, err
		}
		if !ok {
			r.log.Debugw("Claim lost to another runner", logger.FieldJobID, job.ID)
			continue
		}

		startedAt := now
		job.Status = JobStatusRunning
		job.StartedAt = &startedAt
		job.Progress = 0
		job.UpdatedAt = now
		claimed = append(claimed, job)
	}

	r.metrics.recordClaimed(len(claimed))
	if len(claimed) > 0 {
		r.log.Infow("Claimed jobs", logger.FieldCount, len(claimed), logger.FieldBatchSize, limit)
	}
	return claimed, nil
}

// Execute runs one attempt of a claimed job and persists the outcome:
// completed on success, pending with backoff on a retryable failure, failed
// once retries are exhausted. The returned error is non-nil only when the
// outcome could not be persisted.
func (r *Runner) Execute(ctx context.Context, job *Job) (ExecutionResult, error) {
	ctx = logger.WithJobID(ctx, job.ID)
	ctx = withProgress(ctx, r.store, job, r.clock)
	log := r.log.With(logger.FieldJobID, job.ID, logger.FieldJobType, job.Type)

	r.appendLog(ctx, log, job.ID, LogLevelInfo, "started", map[string]any{
		"attempt":     job.RetryCount + 1,
		"max_retries": job.MaxRetries,
	})

	r.metrics.start()
	began := time.Now()
	value, err := r.invoke(ctx, job, log)
	elapsed := time.Since(began)
	r.metrics.finish(job.Type, elapsed)

	// The outcome is persisted even when ctx was cancelled during the
	// attempt, so shutdown never leaves the job running
	storeCtx := context.WithoutCancel(ctx)
	now := r.clock()
	if err == nil {
		raw, encErr := encodeResult(value)
		if encErr == nil {
			return r.complete(storeCtx, log, job, raw, now, elapsed)
		}
		err = errors.Wrap(encErr, "failed to encode job result")
	}
	return r.fail(storeCtx, log, job, err, now)
}

func (r *Runner) invoke(ctx context.Context, job *Job, log *zap.SugaredLogger) (value any, err error) {
	handler := r.registry.Get(job.Type)
	if handler == nil {
		return nil, errors.Wrapf(ErrUnknownJobType, "%q", job.Type)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Errorw("Handler panicked", "panic", p, "stack", string(debug.Stack()))
			err = errors.Newf("handler panicked: %v", p)
		}
	}()
	return handler.Execute(ctx, job)
}

func (r *Runner) complete(ctx context.Context, log *zap.SugaredLogger, job *Job, raw json.RawMessage, now time.Time, elapsed time.Duration) (ExecutionResult, error) {
	status := JobStatusCompleted
	progress := 100
	completedAt := now
	patch := JobPatch{
		Status:      &status,
		Progress:    &progress,
		Result:      raw,
		CompletedAt: &completedAt,
		UpdatedAt:   now,
	}
	if err := r.store.UpdateJob(ctx, job.ID, patch); err != nil {
		log.Errorw("Failed to record job completion", logger.FieldError, err)
		return ExecutionResult{JobID: job.ID, Error: err.Error()}, err
	}

	job.Status = status
	job.Progress = progress
	job.Result = raw
	job.CompletedAt = &completedAt
	job.UpdatedAt = now
	r.metrics.recordOutcome(job.Type, true, false)

	r.appendLog(ctx, log, job.ID, LogLevelInfo, "completed", map[string]any{
		logger.FieldDurationMS: elapsed.Milliseconds(),
	})
	log.Infow("Job completed", logger.FieldDurationMS, elapsed.Milliseconds())

	return ExecutionResult{JobID: job.ID, Success: true, Result: raw}, nil
}

func (r *Runner) fail(ctx context.Context, log *zap.SugaredLogger, job *Job, cause error, now time.Time) (ExecutionResult, error) {
	msg := cause.Error()
	code := ClassifyError(cause)
	fatalUnknown := r.failFastUnknown && errors.Is(cause, ErrUnknownJobType)
	willRetry := job.CanRetry() && !fatalUnknown

	patch := JobPatch{ErrorMessage: &msg, UpdatedAt: now}
	logData := map[string]any{
		"retryCount":  job.RetryCount,
		"willRetry":   willRetry,
		"error_code":  string(code),
		"max_retries": job.MaxRetries,
	}

	var nextRetryAt time.Time
	if willRetry {
		status := JobStatusPending
		retryCount := job.RetryCount + 1
		nextRetryAt = NextRetryAt(now, job.RetryCount)
		patch.Status = &status
		patch.RetryCount = &retryCount
		patch.ScheduledFor = &nextRetryAt
		patch.NextRetryAt = &nextRetryAt
		logData["nextRetryAt"] = nextRetryAt.UTC().Format(time.RFC3339)
	} else {
		status := JobStatusFailed
		completedAt := now
		patch.Status = &status
		patch.CompletedAt = &completedAt
	}

	if err := r.store.UpdateJob(ctx, job.ID, patch); err != nil {
		log.Errorw("Failed to record job failure", logger.FieldError, err, "cause", msg)
		return ExecutionResult{JobID: job.ID, Error: msg, WillRetry: willRetry}, err
	}

	job.ErrorMessage = msg
	job.UpdatedAt = now
	job.Status = *patch.Status
	if willRetry {
		job.RetryCount = *patch.RetryCount
		job.ScheduledFor = nextRetryAt
		job.NextRetryAt = &nextRetryAt
	} else {
		job.CompletedAt = patch.CompletedAt
	}
	r.metrics.recordOutcome(job.Type, false, willRetry)

	r.appendLog(ctx, log, job.ID, LogLevelError, msg, logData)
	if willRetry {
		log.Warnw("Job failed, retry scheduled",
			logger.FieldError, msg,
			logger.FieldErrorCode, code,
			logger.FieldRetryCount, job.RetryCount,
			logger.FieldNextRetry, nextRetryAt,
		)
	} else {
		log.Errorw("Job failed permanently",
			logger.FieldError, msg,
			logger.FieldErrorCode, code,
			logger.FieldRetryCount, job.RetryCount,
			logger.FieldMaxRetries, job.MaxRetries,
		)
	}

	return ExecutionResult{JobID: job.ID, Error: msg, WillRetry: willRetry}, nil
}

// appendLog failures are logged, never returned: the job row is the source of truth
func (r *Runner) appendLog(ctx context.Context, log *zap.SugaredLogger, jobID string, level LogLevel, message string, data map[string]any) {
	if err := r.store.AppendLog(ctx, jobID, level, message, data); err != nil {
		log.Warnw("Failed to append job log", logger.FieldError, err, "message", message)
	}
}

func encodeResult(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

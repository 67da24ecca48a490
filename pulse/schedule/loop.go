// Package schedule drives the job runner: one pass claims a batch of due jobs
// and executes it on a bounded worker pool. Passes are started manually, by a
// ticker or by a cron expression.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/async"
)

// Executor is the part of async.Runner the loop depends on
type Executor interface {
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*async.Job, error)
	Execute(ctx context.Context, job *async.Job) (async.ExecutionResult, error)
}

// Reaper returns jobs stuck in running past their lease to pending
type Reaper interface {
	RecoverStale(ctx context.Context, now time.Time, lease time.Duration) ([]string, error)
}

// Enqueuer turns due work outside the job table into jobs. It runs at the
// start of each pass so a job it enqueues for now is claimed by that pass.
type Enqueuer interface {
	EnqueueDue(ctx context.Context, now time.Time) (int, error)
}

// Summary is the outcome of one pass, in claim order
type Summary struct {
	ProcessedJobs int                     `json:"processedJobs"`
	Results       []async.ExecutionResult `json:"results"`
}

// Counts tallies results into succeeded, terminally failed and retried
func (s Summary) Counts() (succeeded, failed, retried int) {
	for _, r := range s.Results {
		switch {
		case r.Success:
			succeeded++
		case r.WillRetry:
			retried++
		default:
			failed++
		}
	}
	return succeeded, failed, retried
}

// Config sizes the loop
type Config struct {
	Workers   int           // concurrent executions per pass
	BatchSize int           // jobs claimed per pass
	Interval  time.Duration // ticker period for Start
	Lease     time.Duration // reaper lease; zero disables the reaper
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		BatchSize: async.DefaultClaimLimit,
		Interval:  5 * time.Second,
	}
}

// Loop runs scheduler passes
type Loop struct {
	executor Executor
	reaper   Reaper
	enqueuer Enqueuer
	runs     *RunStore
	clock    async.Clock
	log      *zap.SugaredLogger

	mu              sync.Mutex
	workers         int
	batchSize       int
	interval        time.Duration
	lease           time.Duration
	lastTickAt      time.Time
	ticksSinceStart int64
	lastProcessed   int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// Option configures a Loop
type Option func(*Loop)

// WithReaper enables stale-job recovery before each claim
func WithReaper(r Reaper) Option {
	return func(l *Loop) { l.reaper = r }
}

// WithEnqueuer checks for due work to enqueue after stale recovery and
// before each claim
func WithEnqueuer(e Enqueuer) Option {
	return func(l *Loop) { l.enqueuer = e }
}

// WithRunStore records every pass in scheduler_runs
func WithRunStore(rs *RunStore) Option {
	return func(l *Loop) { l.runs = rs }
}

// WithClock sets the clock the ticker and cron triggers read "now" from
func WithClock(clock async.Clock) Option {
	return func(l *Loop) { l.clock = clock }
}

// WithLogger sets the loop's logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Loop) { l.log = log }
}

// NewLoop creates a loop over executor
func NewLoop(executor Executor, cfg Config, opts ...Option) *Loop {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}

	l := &Loop{
		executor:  executor,
		clock:     time.Now,
		log:       logger.Logger,
		workers:   cfg.Workers,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		lease:     cfg.Lease,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = logger.AddPulseSymbol(l.log.Named("scheduler"))
	return l
}

// SetWorkers resizes the worker pool from the next pass on
func (l *Loop) SetWorkers(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workers = n
}

// SetBatchSize changes the claim limit from the next pass on
func (l *Loop) SetBatchSize(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batchSize = n
}

func (l *Loop) sizes() (workers, batchSize int, lease time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.workers, l.batchSize, l.lease
}

// RunOnce claims up to one batch of jobs due at now and executes each claimed
// job exactly once, at most Workers at a time. Results are returned in claim
// order. Concurrent calls are safe: the claim is the only coordination.
//
// A handler failure is a result, not an error. The error is non-nil when the
// claim failed or an outcome could not be persisted; the summary still holds
// everything that ran.
func (l *Loop) RunOnce(ctx context.Context, now time.Time) (Summary, error) {
	return l.run(ctx, now, TriggerManual)
}

func (l *Loop) run(ctx context.Context, now time.Time, trigger Trigger) (Summary, error) {
	began := time.Now()
	run := l.startRun(ctx, now, trigger)

	summary, err := l.pass(ctx, now)

	if run != nil {
		run.ProcessedJobs = summary.ProcessedJobs
		run.Succeeded, run.Failed, run.Retried = summary.Counts()
		if err != nil {
			run.ErrorMessage = err.Error()
		}
		run.completeAt(l.clock(), time.Since(began))
		// Run history is best effort; the jobs themselves are already persisted
		if recErr := l.runs.CompleteRun(context.WithoutCancel(ctx), run); recErr != nil {
			l.log.Warnw("Failed to record scheduler run", logger.FieldError, recErr, "run_id", run.ID)
		}
	}
	return summary, err
}

func (l *Loop) startRun(ctx context.Context, now time.Time, trigger Trigger) *Run {
	if l.runs == nil {
		return nil
	}
	run := &Run{ID: uuid.New().String(), Trigger: trigger, StartedAt: now}
	if err := l.runs.CreateRun(ctx, run); err != nil {
		l.log.Warnw("Failed to create scheduler run record", logger.FieldError, err, logger.FieldTrigger, trigger)
		return nil
	}
	return run
}

func (l *Loop) pass(ctx context.Context, now time.Time) (Summary, error) {
	workers, batchSize, lease := l.sizes()
	summary := Summary{Results: []async.ExecutionResult{}}

	if l.reaper != nil && lease > 0 {
		recovered, err := l.reaper.RecoverStale(ctx, now, lease)
		if err != nil {
			l.log.Warnw("Stale job recovery failed", logger.FieldError, err)
		} else if len(recovered) > 0 {
			logger.AddPulseOpenSymbol(l.log).Warnw("Recovered stale running jobs", logger.FieldCount, len(recovered), "job_ids", recovered)
		}
	}

	if l.enqueuer != nil {
		enqueued, err := l.enqueuer.EnqueueDue(ctx, now)
		if err != nil {
			l.log.Warnw("Failed to enqueue due work", logger.FieldError, err)
		} else if enqueued > 0 {
			l.log.Debugw("Enqueued due work", logger.FieldCount, enqueued)
		}
	}

	claimed, claimErr := l.executor.ClaimBatch(ctx, batchSize, now)
	if claimErr != nil {
		claimErr = errors.Wrap(claimErr, "failed to claim jobs")
		if len(claimed) == 0 {
			return summary, claimErr
		}
		// The jobs claimed before the failure are already running and must execute
		l.log.Errorw("Claim interrupted, executing partial batch", logger.FieldError, claimErr, logger.FieldCount, len(claimed))
	}
	if len(claimed) == 0 {
		return summary, nil
	}

	results := make([]async.ExecutionResult, len(claimed))
	persistErrs := make([]error, len(claimed))

	// Claimed jobs run even when ctx is cancelled mid-pass; cancellation
	// reaches the handlers through the execution context instead.
	sem := semaphore.NewWeighted(int64(workers))
	acquireCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	for i, job := range claimed {
		if err := sem.Acquire(acquireCtx, 1); err != nil {
			results[i] = async.ExecutionResult{JobID: job.ID, Error: err.Error()}
			persistErrs[i] = err
			continue
		}
		wg.Add(1)

		go func(i int, job *async.Job) {
			defer sem.Release(1)
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					l.log.Errorw("Job execution panicked", logger.FieldJobID, job.ID, "panic", p)
					results[i] = async.ExecutionResult{JobID: job.ID, Error: fmt.Sprintf("execution panicked: %v", p)}
					persistErrs[i] = errors.Newf("execution of job %s panicked: %v", job.ID, p)
				}
			}()

			results[i], persistErrs[i] = l.executor.Execute(ctx, job)
		}(i, job)
	}
	wg.Wait()

	summary.ProcessedJobs = len(results)
	summary.Results = results

	passErr := claimErr
	for i, err := range persistErrs {
		if err != nil {
			passErr = errors.CombineErrors(passErr, errors.Wrapf(err, "job %s", claimed[i].ID))
		}
	}

	succeeded, failed, retried := summary.Counts()
	l.log.Infow("Scheduler pass complete",
		logger.FieldCount, summary.ProcessedJobs,
		"succeeded", succeeded,
		"failed", failed,
		"retried", retried,
		logger.FieldWorkers, workers,
	)

	return summary, passErr
}

// Start begins the ticker loop
func (l *Loop) Start(parent context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.ctx, l.cancel = context.WithCancel(parent)
	l.started = true
	interval := l.interval
	l.mu.Unlock()

	l.wg.Add(1)
	go l.tick(interval)
	l.log.Infow("Scheduler ticker started", "interval", interval)
}

// Stop cancels the ticker and waits for the pass in progress
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
	l.log.Infow("Scheduler ticker stopped")
}

func (l *Loop) tick(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			now := l.clock()
			l.mu.Lock()
			l.lastTickAt = now
			l.ticksSinceStart++
			tick := l.ticksSinceStart
			l.mu.Unlock()

			summary, err := l.run(l.ctx, now, TriggerTicker)
			switch {
			case err == nil:
			case db.IsDatabaseClosed(err):
				l.log.Debugw("Database closed, skipping tick", "tick", tick)
			default:
				// Tick errors are warnings; the next tick retries
				l.log.Warnw("Scheduler tick error", logger.FieldError, err, "tick", tick)
			}
			l.noteActivity(summary.ProcessedJobs)
		}
	}
}

// noteActivity logs only when the amount of work per tick changes
func (l *Loop) noteActivity(processed int) {
	l.mu.Lock()
	changed := processed != l.lastProcessed
	l.lastProcessed = processed
	l.mu.Unlock()

	if changed && processed == 0 {
		l.log.Infow("Scheduler idle - no due jobs")
	}
}

// Stats returns ticker statistics
func (l *Loop) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]any{
		"last_tick_at":      l.lastTickAt,
		"ticks_since_start": l.ticksSinceStart,
		"interval":          l.interval,
		"workers":           l.workers,
		"batch_size":        l.batchSize,
	}
}

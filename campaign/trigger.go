package campaign

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/async"
)

// JobQueue is the part of async.Store the trigger enqueues through
type JobQueue interface {
	CountActive(ctx context.Context, jobType async.JobType) (int, error)
	Enqueue(ctx context.Context, p async.Params, opts async.EnqueueOptions) (*async.Job, error)
}

// Trigger enqueues a recurring_messages job whenever campaign instances are
// due and no such job is already pending or running. A pending job waiting
// out a retry backoff counts, so a failing dispatch is not re-enqueued every
// pass.
type Trigger struct {
	store      *Store
	jobs       JobQueue
	maxRetries int
	log        *zap.SugaredLogger
}

// NewTrigger creates a trigger. maxRetries applies to the jobs it enqueues.
func NewTrigger(store *Store, jobs JobQueue, maxRetries int, log *zap.SugaredLogger) *Trigger {
	if log == nil {
		log = logger.Logger
	}
	if maxRetries < 0 {
		maxRetries = async.DefaultMaxRetries
	}
	return &Trigger{
		store:      store,
		jobs:       jobs,
		maxRetries: maxRetries,
		log:        logger.AddCampaignSymbol(log.Named("trigger")),
	}
}

// EnqueueDue implements schedule.Enqueuer. It returns the number of jobs
// enqueued, zero or one.
func (t *Trigger) EnqueueDue(ctx context.Context, now time.Time) (int, error) {
	due, err := t.store.FindDueInstances(ctx, now, 1, "")
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	active, err := t.jobs.CountActive(ctx, async.JobTypeRecurringMessages)
	if err != nil {
		return 0, err
	}
	if active > 0 {
		t.log.Debugw("Instances due, dispatch already queued", logger.FieldCount, active)
		return 0, nil
	}

	maxRetries := t.maxRetries
	job, err := t.jobs.Enqueue(ctx, async.RecurringMessagesParams{}, async.EnqueueOptions{
		ScheduledFor: now,
		MaxRetries:   &maxRetries,
	})
	if err != nil {
		return 0, err
	}
	t.log.Infow("Enqueued dispatch for due instances",
		logger.FieldJobID, job.ID,
		logger.FieldInstanceID, due[0].ID,
		logger.FieldNow, now,
	)
	return 1, nil
}

package async

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/cadence/errors"
)

// EnqueueOptions tunes a new job. Zero values take the defaults: priority 5,
// scheduled now, DefaultMaxRetries. Priority 0 is the most urgent, so it must
// be passed explicitly.
type EnqueueOptions struct {
	Priority     *int
	ScheduledFor time.Time
	MaxRetries   *int
}

// Enqueue creates a pending job for p
func (s *Store) Enqueue(ctx context.Context, p Params, opts EnqueueOptions) (*Job, error) {
	if p == nil {
		return nil, errors.NewInvalidRequestError("enqueue: nil parameters")
	}
	if v, ok := p.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s parameters", p.JobType())
	}

	now := s.clock()
	job := &Job{
		ID:           uuid.New().String(),
		Type:         p.JobType(),
		Status:       JobStatusPending,
		Priority:     DefaultPriority,
		ScheduledFor: opts.ScheduledFor,
		Parameters:   raw,
		MaxRetries:   DefaultMaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.Priority != nil {
		if *opts.Priority < 0 {
			return nil, errors.NewInvalidRequestError("priority must be >= 0, got %d", *opts.Priority)
		}
		job.Priority = *opts.Priority
	}
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = now
	}
	if opts.MaxRetries != nil {
		if *opts.MaxRetries < 0 {
			return nil, errors.NewInvalidRequestError("max_retries must be >= 0, got %d", *opts.MaxRetries)
		}
		job.MaxRetries = *opts.MaxRetries
	}

	if err := s.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

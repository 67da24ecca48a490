package campaign

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

// NextRun advances from by value units of kind. Daily adds days, weekly adds
// weeks, monthly advances calendar months (with time.AddDate normalization,
// so Jan 31 + 1 month is Mar 3). Any other kind, custom included, adds one
// day. A value <= 0 counts as 1.
func NextRun(kind IntervalKind, value int, from time.Time) time.Time {
	if value <= 0 {
		value = 1
	}
	switch kind {
	case IntervalDaily:
		return from.AddDate(0, 0, value)
	case IntervalWeekly:
		return from.AddDate(0, 0, value*7)
	case IntervalMonthly:
		return from.AddDate(0, value, 0)
	default:
		return from.AddDate(0, 0, 1)
	}
}

// Engine schedules the next instance of a campaign
type Engine struct {
	store *Store
	log   *zap.SugaredLogger
}

// NewEngine creates a recurrence engine over store
func NewEngine(store *Store, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = logger.Logger
	}
	return &Engine{store: store, log: logger.AddCampaignSymbol(log.Named("recurrence"))}
}

// ScheduleNext creates the campaign's next scheduled instance at
// NextRun(interval, value, now). It does nothing, returning a nil instance,
// when the campaign is missing or inactive, when the next run would fall
// after its end date, or when it already has a scheduled instance.
func (e *Engine) ScheduleNext(ctx context.Context, campaignID string, now time.Time) (*Instance, error) {
	log := e.log.With(logger.FieldCampaignID, campaignID)

	c, err := e.store.GetCampaign(ctx, campaignID)
	if errors.Is(err, errors.ErrNotFound) {
		log.Debugw("Campaign gone, nothing to schedule")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		log.Debugw("Campaign inactive, not scheduling")
		return nil, nil
	}

	next := NextRun(c.Interval, c.IntervalValue, now)
	if c.EndDate != nil && next.After(*c.EndDate) {
		log.Infow("Campaign reached its end date", "next_run", next, "end_date", *c.EndDate)
		return nil, nil
	}

	if pending, err := e.store.ScheduledInstance(ctx, campaignID); err != nil {
		return nil, err
	} else if pending != nil {
		log.Warnw("Campaign already has a scheduled instance", logger.FieldInstanceID, pending.ID)
		return nil, nil
	}

	inst, err := e.store.CreateInstance(ctx, campaignID, next)
	if errors.Is(err, errors.ErrConflict) {
		// Lost a race to another scheduler; the invariant holds either way
		log.Warnw("Concurrent scheduling detected, keeping existing instance")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	log.Infow("Scheduled next instance", logger.FieldInstanceID, inst.ID, "scheduled_for", inst.ScheduledFor)
	return inst, nil
}

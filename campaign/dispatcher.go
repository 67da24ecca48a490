package campaign

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/async"
)

// DefaultInstanceBatch caps instances processed per DispatchDue call so one
// recurring_messages job always makes bounded progress.
const DefaultInstanceBatch = 10

// Dispatcher fires due campaign instances. It is the recurring_messages
// job handler.
type Dispatcher struct {
	store     *Store
	engine    *Engine
	deliverer Deliverer
	batch     int
	log       *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher. batch <= 0 means DefaultInstanceBatch.
func NewDispatcher(store *Store, engine *Engine, deliverer Deliverer, batch int, log *zap.SugaredLogger) *Dispatcher {
	if batch <= 0 {
		batch = DefaultInstanceBatch
	}
	if log == nil {
		log = logger.Logger
	}
	return &Dispatcher{
		store:     store,
		engine:    engine,
		deliverer: deliverer,
		batch:     batch,
		log:       logger.AddCampaignSymbol(log.Named("dispatcher")),
	}
}

func (d *Dispatcher) JobType() async.JobType { return async.JobTypeRecurringMessages }

// Execute runs DispatchDue at the job's claim time
func (d *Dispatcher) Execute(ctx context.Context, job *async.Job) (any, error) {
	params, err := async.DecodeParams[async.RecurringMessagesParams](job)
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, job.ClaimedAt(), params.CampaignID)
}

// DispatchDue processes up to one batch of scheduled instances due at now.
// Per-recipient delivery failures are recorded as outcomes and never fail
// the call; an error means the store could not be read or written.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) (DispatchSummary, error) {
	return d.dispatch(ctx, now, "")
}

func (d *Dispatcher) dispatch(ctx context.Context, now time.Time, campaignID string) (DispatchSummary, error) {
	var summary DispatchSummary

	due, err := d.store.FindDueInstances(ctx, now, d.batch, campaignID)
	if err != nil {
		return summary, err
	}
	if len(due) == 0 {
		d.log.Debugw("No due instances", logger.FieldNow, now)
		return summary, nil
	}

	for i, inst := range due {
		if ctx.Err() != nil {
			// Untouched instances stay scheduled for the next dispatch
			d.log.Infow("Dispatch interrupted", "remaining_instances", len(due)-i)
			break
		}
		if err := d.dispatchInstance(ctx, inst, now, &summary); err != nil {
			return summary, errors.Wrapf(err, "instance %s", inst.ID)
		}
		if err := async.ReportProgress(context.WithoutCancel(ctx), async.Fraction(i+1, len(due))); err != nil {
			d.log.Warnw("Failed to report progress", logger.FieldError, err)
		}
	}

	d.log.Infow("Dispatched due instances",
		"instances", summary.InstancesProcessed,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"cancelled", summary.Cancelled,
		"interrupted", summary.Interrupted,
	)
	return summary, nil
}

func (d *Dispatcher) dispatchInstance(ctx context.Context, inst *Instance, now time.Time, summary *DispatchSummary) error {
	ctx = logger.WithCampaignID(ctx, inst.CampaignID)
	log := logger.FromContext(ctx, d.log).With(logger.FieldInstanceID, inst.ID)

	c, err := d.store.GetCampaign(ctx, inst.CampaignID)
	if errors.Is(err, ErrCampaignNotFound) {
		// Cascading delete normally removes the instance too
		c = &Campaign{ID: inst.CampaignID}
	} else if err != nil {
		return err
	}

	if !c.IsActive {
		cancelled, err := d.store.CancelInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		if cancelled {
			summary.InstancesProcessed++
			summary.Cancelled++
			log.Infow("Campaign inactive, instance cancelled")
		}
		return nil
	}

	recipients, err := d.store.ListRecipients(ctx, c.ID, true)
	if err != nil {
		return err
	}

	owned, err := d.store.MarkInstanceSent(ctx, inst.ID, now, len(recipients))
	if err != nil {
		return err
	}
	if !owned {
		log.Debugw("Instance already taken by another dispatcher")
		return nil
	}
	summary.InstancesProcessed++

	// Once the instance is owned its bookkeeping must land even if ctx is
	// cancelled mid-fan-out; only Send sees cancellation.
	storeCtx := context.WithoutCancel(ctx)

	// The next instance is scheduled whatever happens below, so a store
	// failure mid-fan-out does not strand the campaign.
	defer func() {
		if _, err := d.engine.ScheduleNext(storeCtx, c.ID, now); err != nil {
			log.Errorw("Failed to schedule next instance", logger.FieldError, err)
		}
	}()

	success, failure, interrupted := 0, 0, 0
	for i, r := range recipients {
		var status OutcomeStatus
		var err error
		if ctx.Err() != nil {
			if interrupted == 0 {
				log.Warnw("Dispatch interrupted, remaining recipients recorded as failed",
					"remaining", len(recipients)-i, logger.FieldError, ctx.Err())
			}
			interrupted++
			summary.Interrupted++
			status, err = d.interrupted(storeCtx, inst, r, now)
		} else {
			status, err = d.deliverTo(ctx, storeCtx, log, c, inst, r, now)
		}
		if err != nil {
			return err
		}
		switch status {
		case OutcomeSent:
			success++
			summary.Sent++
		case OutcomeFailed:
			failure++
			summary.Failed++
		case OutcomeSkipped:
			summary.Skipped++
		}
	}

	if err := d.store.SetInstanceCounts(storeCtx, inst.ID, success, failure); err != nil {
		return err
	}

	log.Infow("Instance sent",
		"recipients", len(recipients),
		"success", success,
		"failure", failure,
		"skipped", len(recipients)-success-failure,
	)
	return nil
}

// interruptedReason is the failed outcome of recipients a cancelled dispatch
// never reached
const interruptedReason = "dispatch interrupted before delivery"

func (d *Dispatcher) interrupted(storeCtx context.Context, inst *Instance, r *Recipient, now time.Time) (OutcomeStatus, error) {
	outcome := &Outcome{
		InstanceID:  inst.ID,
		RecipientID: r.ID,
		Status:      OutcomeFailed,
		Reason:      interruptedReason,
		CreatedAt:   now,
	}
	return outcome.Status, d.store.RecordOutcome(storeCtx, outcome)
}

// deliverTo handles one recipient and records its outcome. Only store
// errors are returned; delivery errors become failed outcomes. Send runs on
// ctx, every store write on storeCtx.
func (d *Dispatcher) deliverTo(ctx, storeCtx context.Context, log *zap.SugaredLogger, c *Campaign, inst *Instance, r *Recipient, now time.Time) (OutcomeStatus, error) {
	outcome := &Outcome{InstanceID: inst.ID, RecipientID: r.ID, CreatedAt: now}
	log = log.With(logger.FieldRecipientID, r.ID)

	if reason, stop := EvaluateStop(*r, *c); stop {
		if err := d.store.DeactivateRecipient(storeCtx, r.ID, reason, now); err != nil {
			return "", err
		}
		outcome.Status = OutcomeSkipped
		outcome.Reason = string(reason)
		log.Infow("Recipient stopped", logger.FieldStopReason, reason)
		return outcome.Status, d.store.RecordOutcome(storeCtx, outcome)
	}

	vars := Variables(*c, *r)
	msg := Message{
		To:          r.Address(c.Channel),
		Channel:     c.Channel,
		Subject:     Render(c.SubjectTemplate, vars),
		Body:        Render(c.BodyTemplate, vars),
		CampaignID:  c.ID,
		InstanceID:  inst.ID,
		RecipientID: r.ID,
	}

	var receipt Receipt
	var sendErr error
	if msg.To == "" {
		sendErr = errors.Newf("recipient has no %s address", c.Channel)
	} else {
		receipt, sendErr = d.deliverer.Send(ctx, msg)
	}

	if sendErr != nil {
		outcome.Status = OutcomeFailed
		outcome.Reason = sendErr.Error()
		log.Warnw("Delivery failed", logger.FieldError, sendErr, logger.FieldChannel, c.Channel)
		return outcome.Status, d.store.RecordOutcome(storeCtx, outcome)
	}

	if err := d.store.RecordDelivery(storeCtx, r.ID, now); err != nil {
		return "", err
	}
	outcome.Status = OutcomeSent
	outcome.MessageRef = receipt.Reference
	return outcome.Status, d.store.RecordOutcome(storeCtx, outcome)
}

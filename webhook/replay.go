package webhook

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/internal/httpclient"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/async"
)

// ReplayHandler serves webhook_replay jobs
type ReplayHandler struct {
	store  *Store
	client *httpclient.Client
	log    *zap.SugaredLogger
}

func NewReplayHandler(store *Store, client *httpclient.Client, log *zap.SugaredLogger) *ReplayHandler {
	if log == nil {
		log = logger.Logger
	}
	return &ReplayHandler{store: store, client: client, log: log.Named("webhook")}
}

func (h *ReplayHandler) JobType() async.JobType { return async.JobTypeWebhookReplay }

// Execute re-POSTs every selected event. One failed event fails the job so
// the runner retries it; events already replayed are skipped on the retry.
func (h *ReplayHandler) Execute(ctx context.Context, job *async.Job) (any, error) {
	params, err := async.DecodeParams[async.WebhookReplayParams](job)
	if err != nil {
		return nil, err
	}

	events, err := h.store.ListReplayable(ctx, Selector{
		IDs:    params.EventIDs,
		Source: params.Source,
		Limit:  params.Limit,
	})
	if err != nil {
		return nil, err
	}

	var result ReplayResult
	var firstErr error
	now := job.ClaimedAt()

	for i, e := range events {
		log := h.log.With("event_id", e.ID, "source", e.Source)

		if err := h.replay(ctx, e); err != nil {
			result.Failed++
			log.Warnw("Webhook replay failed", logger.FieldError, err, "attempts", e.Attempts+1)
			if markErr := h.store.MarkFailed(ctx, e.ID, err); markErr != nil {
				return result, markErr
			}
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "event %s", e.ID)
			}
		} else {
			if _, err := h.store.MarkReplayed(ctx, e.ID, now); err != nil {
				return result, err
			}
			result.Replayed++
			log.Debugw("Webhook replayed")
		}

		if err := async.ReportProgress(ctx, async.Fraction(i+1, len(events))); err != nil {
			log.Warnw("Failed to report progress", logger.FieldError, err)
		}
	}

	h.log.Infow("Webhook replay finished", "replayed", result.Replayed, "failed", result.Failed)
	if firstErr != nil {
		return result, errors.WithDetailf(firstErr, "%d of %d events failed", result.Failed, len(events))
	}
	return result, nil
}

func (h *ReplayHandler) replay(ctx context.Context, e *Event) error {
	headers := map[string]string{
		"X-Webhook-Source":   e.Source,
		"X-Webhook-Event-Id": e.ID,
	}
	return h.client.PostRaw(ctx, e.TargetURL, headers, e.Payload, nil)
}

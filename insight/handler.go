package insight

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/async"
	"github.com/teranos/cadence/pulse/budget"
)

// Result is the insight_generation job result
type Result struct {
	SubjectType string   `json:"subject_type"`
	SubjectID   string   `json:"subject_id"`
	Insight     *Insight `json:"insight"`
}

// Handler serves insight_generation jobs. Calls are gated by a per-minute
// limiter and a rolling daily limit; a refused call fails the attempt and the
// runner retries it later with backoff.
type Handler struct {
	gen        Generator
	limiter    *budget.Limiter
	budget     *budget.Store
	dailyLimit int
	log        *zap.SugaredLogger
}

// Option configures a Handler
type Option func(*Handler)

// WithRateLimit caps generator calls per minute
func WithRateLimit(l *budget.Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithDailyLimit caps completed generations in any 24 hours
func WithDailyLimit(store *budget.Store, limit int) Option {
	return func(h *Handler) {
		h.budget = store
		h.dailyLimit = limit
	}
}

func NewHandler(gen Generator, log *zap.SugaredLogger, opts ...Option) *Handler {
	if log == nil {
		log = logger.Logger
	}
	h := &Handler{gen: gen, log: log.Named("insight")}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) JobType() async.JobType { return async.JobTypeInsightGeneration }

func (h *Handler) Execute(ctx context.Context, job *async.Job) (any, error) {
	params, err := async.DecodeParams[async.InsightGenerationParams](job)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if h.budget != nil {
		if err := h.budget.CheckDaily(ctx, string(async.JobTypeInsightGeneration), h.dailyLimit, job.ClaimedAt()); err != nil {
			return nil, err
		}
	}
	if err := h.limiter.Allow(); err != nil {
		return nil, err
	}

	start := time.Now()
	insight, err := h.gen.Generate(ctx, Request{
		SubjectType: params.SubjectType,
		SubjectID:   params.SubjectID,
		Prompt:      params.Prompt,
	})
	if err != nil {
		return nil, err
	}

	calls, remaining := h.limiter.Stats()
	h.log.Infow("Insight generated",
		"subject_type", params.SubjectType,
		"subject_id", params.SubjectID,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
		"calls_in_window", calls,
		"calls_remaining", remaining,
	)
	return Result{SubjectType: params.SubjectType, SubjectID: params.SubjectID, Insight: insight}, nil
}

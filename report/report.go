// Package report builds the report_generation job result: job counts,
// per-campaign delivery aggregates and, for the full kind, a host snapshot.
package report

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/campaign"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/async"
)

// Report is the report_generation job result
type Report struct {
	Kind        string               `json:"kind"`
	GeneratedAt time.Time            `json:"generated_at"`
	Jobs        *JobSummary          `json:"jobs,omitempty"`
	Campaigns   []*campaign.Stats    `json:"campaigns,omitempty"`
	System      *async.SystemMetrics `json:"system,omitempty"`
}

// JobSummary counts jobs by status, overall and per type
type JobSummary struct {
	ByStatus map[async.JobStatus]int                   `json:"by_status"`
	ByType   map[async.JobType]map[async.JobStatus]int `json:"by_type"`
	Total    int                                       `json:"total"`
}

// Handler serves report_generation jobs
type Handler struct {
	jobs      *async.Store
	campaigns *campaign.Store
	workers   int
	log       *zap.SugaredLogger
}

// NewHandler creates the handler. workers is reported in the system snapshot.
func NewHandler(jobs *async.Store, campaigns *campaign.Store, workers int, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = logger.Logger
	}
	return &Handler{jobs: jobs, campaigns: campaigns, workers: workers, log: log.Named("report")}
}

func (h *Handler) JobType() async.JobType { return async.JobTypeReportGeneration }

func (h *Handler) Execute(ctx context.Context, job *async.Job) (any, error) {
	params, err := async.DecodeParams[async.ReportGenerationParams](job)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	r := &Report{Kind: params.Kind, GeneratedAt: job.ClaimedAt()}
	full := params.Kind == async.ReportKindFull

	if params.Kind == async.ReportKindJobs || full {
		if r.Jobs, err = h.jobSummary(ctx); err != nil {
			return nil, err
		}
	}
	if params.Kind == async.ReportKindCampaigns || full {
		if r.Campaigns, err = h.campaigns.CampaignStats(ctx, params.CampaignID); err != nil {
			return nil, err
		}
	}
	if full {
		sys, err := h.jobs.CollectSystemMetrics(ctx, h.workers)
		if err != nil {
			return nil, err
		}
		r.System = &sys
	}

	h.log.Infow("Report generated", "kind", r.Kind, "campaigns", len(r.Campaigns))
	return r, nil
}

func (h *Handler) jobSummary(ctx context.Context) (*JobSummary, error) {
	counts, err := h.jobs.CountByTypeAndStatus(ctx)
	if err != nil {
		return nil, err
	}
	s := &JobSummary{
		ByStatus: map[async.JobStatus]int{},
		ByType:   map[async.JobType]map[async.JobStatus]int{},
	}
	for _, c := range counts {
		s.ByStatus[c.Status] += c.Count
		if s.ByType[c.Type] == nil {
			s.ByType[c.Type] = map[async.JobStatus]int{}
		}
		s.ByType[c.Type][c.Status] = c.Count
		s.Total += c.Count
	}
	return s, nil
}

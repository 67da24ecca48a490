package async

import (
	"encoding/json"

	"github.com/teranos/cadence/errors"
)

// Params is the closed set of job parameter types. Each variant names the job
// type it belongs to; Enqueue derives Job.Type from it.
type Params interface {
	JobType() JobType
}

// RecurringMessagesParams drives the campaign dispatcher.
type RecurringMessagesParams struct {
	CampaignID string `json:"campaign_id,omitempty"` // restrict to one campaign
}

// WebhookReplayParams selects stored webhook events to re-deliver.
type WebhookReplayParams struct {
	EventIDs []string `json:"event_ids,omitempty"`
	Source   string   `json:"source,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// InsightGenerationParams asks the external generator about one subject.
type InsightGenerationParams struct {
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	Prompt      string `json:"prompt,omitempty"`
}

// RetentionCleanupParams bounds how old a completed job must be to delete it.
// Zero means the configured default.
type RetentionCleanupParams struct {
	OlderThanDays int `json:"older_than_days,omitempty"`
}

// Report kinds
const (
	ReportKindJobs      = "jobs"
	ReportKindCampaigns = "campaigns"
	ReportKindFull      = "full"
)

// ReportGenerationParams selects what the report aggregates.
type ReportGenerationParams struct {
	Kind       string `json:"kind"`
	CampaignID string `json:"campaign_id,omitempty"`
}

func (RecurringMessagesParams) JobType() JobType { return JobTypeRecurringMessages }
func (WebhookReplayParams) JobType() JobType     { return JobTypeWebhookReplay }
func (InsightGenerationParams) JobType() JobType { return JobTypeInsightGeneration }
func (RetentionCleanupParams) JobType() JobType  { return JobTypeRetentionCleanup }
func (ReportGenerationParams) JobType() JobType  { return JobTypeReportGeneration }

// Validate checks fields the handler cannot default.
func (p InsightGenerationParams) Validate() error {
	if p.SubjectType == "" || p.SubjectID == "" {
		return errors.NewInvalidRequestError("insight_generation needs subject_type and subject_id")
	}
	return nil
}

// Validate checks the report kind.
func (p ReportGenerationParams) Validate() error {
	switch p.Kind {
	case ReportKindJobs, ReportKindCampaigns, ReportKindFull:
		return nil
	default:
		return errors.NewInvalidRequestError("unknown report kind %q", p.Kind)
	}
}

// ParseParams decodes raw into the variant for t. Empty raw yields the zero
// variant. Unknown types return ErrUnknownJobType.
func ParseParams(t JobType, raw json.RawMessage) (Params, error) {
	var p Params
	switch t {
	case JobTypeRecurringMessages:
		p = &RecurringMessagesParams{}
	case JobTypeWebhookReplay:
		p = &WebhookReplayParams{}
	case JobTypeInsightGeneration:
		p = &InsightGenerationParams{}
	case JobTypeRetentionCleanup:
		p = &RetentionCleanupParams{}
	case JobTypeReportGeneration:
		p = &ReportGenerationParams{}
	default:
		return nil, errors.Wrapf(ErrUnknownJobType, "%q", t)
	}

	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, errors.Wrapf(err, "invalid parameters for %s", t)
		}
	}
	return p, nil
}

// DecodeParams decodes a job's parameters into the concrete variant T.
func DecodeParams[T Params](job *Job) (T, error) {
	var zero T
	p, err := ParseParams(job.Type, job.Parameters)
	if err != nil {
		return zero, err
	}
	// ParseParams returns pointers; handlers work with values
	switch v := any(p).(type) {
	case *RecurringMessagesParams:
		if t, ok := any(*v).(T); ok {
			return t, nil
		}
	case *WebhookReplayParams:
		if t, ok := any(*v).(T); ok {
			return t, nil
		}
	case *InsightGenerationParams:
		if t, ok := any(*v).(T); ok {
			return t, nil
		}
	case *RetentionCleanupParams:
		if t, ok := any(*v).(T); ok {
			return t, nil
		}
	case *ReportGenerationParams:
		if t, ok := any(*v).(T); ok {
			return t, nil
		}
	}
	return zero, errors.Newf("job %s has type %s, parameters do not match %T", job.ID, job.Type, zero)
}

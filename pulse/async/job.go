// Package async is the background job runner: typed jobs persisted in SQLite,
// claimed at-least-once, executed through registered handlers and retried with
// exponential backoff.
package async

import (
	"encoding/json"
	"time"
)

// JobType routes a job to its handler
type JobType string

const (
	JobTypeRecurringMessages JobType = "recurring_messages"
	JobTypeWebhookReplay     JobType = "webhook_replay"
	JobTypeInsightGeneration JobType = "insight_generation"
	JobTypeRetentionCleanup  JobType = "retention_cleanup"
	JobTypeReportGeneration  JobType = "report_generation"
)

// KnownJobTypes lists every type this build has parameters for.
var KnownJobTypes = []JobType{
	JobTypeRecurringMessages,
	JobTypeWebhookReplay,
	JobTypeInsightGeneration,
	JobTypeRetentionCleanup,
	JobTypeReportGeneration,
}

// IsKnown reports whether t is one of KnownJobTypes
func (t JobType) IsKnown() bool {
	for _, k := range KnownJobTypes {
		if t == k {
			return true
		}
	}
	return false
}

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

const (
	// DefaultClaimLimit is how many jobs one ClaimBatch takes when no limit is given
	DefaultClaimLimit = 5
	DefaultMaxRetries = 3
	DefaultPriority   = 5
)

// Job is one unit of background work.
//
// Status moves pending -> running -> completed, or running -> pending again
// on a retryable failure, or running -> failed once retries are exhausted.
// StartedAt is always set while running and RetryCount never exceeds MaxRetries.
type Job struct {
	ID           string          `json:"id"`
	Type         JobType         `json:"type"`
	Status       JobStatus       `json:"status"`
	Priority     int             `json:"priority"` // lower runs first
	ScheduledFor time.Time       `json:"scheduled_for"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Progress     int             `json:"progress"` // 0-100
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CanRetry reports whether a failure now would be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// ClaimedAt is the claim time handlers use as "now". It falls back to
// ScheduledFor for jobs handed to a handler without being claimed.
func (j *Job) ClaimedAt() time.Time {
	if j.StartedAt != nil {
		return *j.StartedAt
	}
	return j.ScheduledFor
}

// JobPatch lists the columns UpdateJob writes. Nil fields are left alone.
// UpdatedAt is always written.
type JobPatch struct {
	Status       *JobStatus
	Progress     *int
	Result       json.RawMessage
	ErrorMessage *string
	RetryCount   *int
	ScheduledFor *time.Time
	NextRetryAt  *time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// LogLevel is the severity of a job log entry
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelError LogLevel = "error"
)

// LogEntry is one row of a job's execution log
type LogEntry struct {
	ID        int64          `json:"id"`
	JobID     string         `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

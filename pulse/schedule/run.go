package schedule

import "time"

// Trigger names what started a scheduler pass
type Trigger string

const (
	TriggerTicker Trigger = "ticker"
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

// Run is the persisted record of one scheduler pass.
//
// Each RunOnce writes a row when it starts and completes it with the
// outcome counts, giving an operator a history of how the loop behaved
// independently of the per-job logs.
type Run struct {
	ID          string     `json:"id"`
	Trigger     Trigger    `json:"trigger"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ProcessedJobs int `json:"processed_jobs"`
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"` // terminal failures only
	Retried       int `json:"retried"`

	DurationMs   *int64 `json:"duration_ms,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

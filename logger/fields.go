package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	// Jobs
	FieldJobID      = "job_id"
	FieldJobType    = "job_type"
	FieldRetryCount = "retry_count"
	FieldMaxRetries = "max_retries"
	FieldWillRetry  = "will_retry"
	FieldNextRetry  = "next_retry_at"

	// Campaigns
	FieldCampaignID  = "campaign_id"
	FieldInstanceID  = "instance_id"
	FieldRecipientID = "recipient_id"
	FieldStopReason  = "stop_reason"
	FieldChannel     = "channel"

	// Components
	FieldComponent = "component"
	FieldTrigger   = "trigger"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldNow        = "now"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts
	FieldCount     = "count"
	FieldBatchSize = "batch_size"
	FieldWorkers   = "workers"

	FieldStatus = "status"
	FieldSymbol = "symbol"
)

type contextKey string

const (
	jobIDKey      contextKey = "logger_job_id"
	campaignIDKey contextKey = "logger_campaign_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithCampaignID adds a campaign ID to the context for logging
func WithCampaignID(ctx context.Context, campaignID string) context.Context {
	return context.WithValue(ctx, campaignIDKey, campaignID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if campaignID, ok := ctx.Value(campaignIDKey).(string); ok && campaignID != "" {
		fields = append(fields, FieldCampaignID, campaignID)
	}

	return fields
}

// FromContext returns base with the context's logging fields attached.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

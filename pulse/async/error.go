package async

import (
	"context"
	"strings"

	"github.com/teranos/cadence/errors"
)

// ErrUnknownJobType is returned when no handler is registered for a job's type
var ErrUnknownJobType = errors.New("unknown job type")

// ErrorCode classifies a failed attempt for log metadata
type ErrorCode string

const (
	ErrorCodeNetworkError    ErrorCode = "network_error"
	ErrorCodeDatabaseError   ErrorCode = "database_error"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeUnknownType     ErrorCode = "unknown_job_type"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ClassifyError categorizes a handler error. The code is informational;
// every failure is retried the same way.
func ClassifyError(err error) ErrorCode {
	if err == nil {
		return ErrorCodeUnknown
	}

	switch {
	case errors.Is(err, ErrUnknownJobType):
		return ErrorCodeUnknownType
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeTimeout
	case errors.Is(err, errors.ErrInvalidRequest):
		return ErrorCodeValidationError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout"):
		return ErrorCodeTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "no such host"):
		return ErrorCodeNetworkError
	case strings.Contains(msg, "database") || strings.Contains(msg, "sql"):
		return ErrorCodeDatabaseError
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid"):
		return ErrorCodeValidationError
	default:
		return ErrorCodeUnknown
	}
}

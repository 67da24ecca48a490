// Package webhook stores inbound webhook events and replays them to their
// target on demand. Replay is a webhook_replay job, so a failed replay is
// retried with the runner's backoff.
package webhook

import (
	"encoding/json"
	"time"
)

// Status is where an event is in its replay lifecycle
type Status string

const (
	StatusReceived Status = "received"
	StatusReplayed Status = "replayed"
	StatusFailed   Status = "failed"
)

// Event is one stored webhook delivery
type Event struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	TargetURL  string          `json:"target_url"`
	Payload    json.RawMessage `json:"payload"`
	Status     Status          `json:"status"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	ReplayedAt *time.Time      `json:"replayed_at,omitempty"`
}

// ReplayResult is the webhook_replay job result
type ReplayResult struct {
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
}

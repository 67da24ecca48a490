// Package campaign runs recurring message campaigns: each campaign fires
// scheduled instances, an instance fans out to the campaign's active
// recipients, and stop conditions retire recipients for good.
package campaign

import (
	"time"

	"github.com/teranos/cadence/errors"
)

// ErrCampaignNotFound is returned when a campaign ID does not exist
var ErrCampaignNotFound = errors.Wrap(errors.ErrNotFound, "campaign")

// Channel is how messages reach a recipient
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// IntervalKind is the unit of a campaign's recurrence
type IntervalKind string

const (
	IntervalDaily   IntervalKind = "daily"
	IntervalWeekly  IntervalKind = "weekly"
	IntervalMonthly IntervalKind = "monthly"
	IntervalCustom  IntervalKind = "custom"
)

// Campaign is a recurring message configuration
type Campaign struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Channel         Channel        `json:"channel"`
	ProgramName     string         `json:"program_name,omitempty"`
	SubjectTemplate string         `json:"subject_template,omitempty"`
	BodyTemplate    string         `json:"body_template"`
	Interval        IntervalKind   `json:"interval"`
	IntervalValue   int            `json:"interval_value"`
	StartDate       time.Time      `json:"start_date"`
	EndDate         *time.Time     `json:"end_date,omitempty"`
	MaxMessages     *int           `json:"max_messages,omitempty"`
	StopConditions  StopConditions `json:"stop_conditions"`
	IsActive        bool           `json:"is_active"`
	PausedAt        *time.Time     `json:"paused_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Recipient is one person's subscription to a campaign. Once IsActive is
// false the recipient never receives another instance of that campaign.
type Recipient struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	PersonID   string `json:"person_id"`

	// Contact snapshot taken when the recipient was added
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	IsActive           bool          `json:"is_active"`
	MessagesSent       int           `json:"messages_sent"`
	LastMessageSent    *time.Time    `json:"last_message_sent,omitempty"`
	StoppedAt          *time.Time    `json:"stopped_at,omitempty"`
	StopReason         StopCondition `json:"stop_reason,omitempty"`
	PaymentCompleted   bool          `json:"payment_completed"`
	PaymentCompletedAt *time.Time    `json:"payment_completed_at,omitempty"`
	ResponseReceived   bool          `json:"response_received"`
}

// Address returns the recipient's contact for ch, or "" if there is none
func (r Recipient) Address(ch Channel) string {
	if ch == ChannelSMS {
		return r.Phone
	}
	return r.Email
}

// InstanceStatus tracks one firing of a campaign
type InstanceStatus string

const (
	InstanceScheduled InstanceStatus = "scheduled"
	InstanceSent      InstanceStatus = "sent"
	InstanceCancelled InstanceStatus = "cancelled"
)

// Instance is one scheduled firing of a campaign
type Instance struct {
	ID             string         `json:"id"`
	CampaignID     string         `json:"campaign_id"`
	ScheduledFor   time.Time      `json:"scheduled_for"`
	Status         InstanceStatus `json:"status"`
	ActualSentAt   *time.Time     `json:"actual_sent_at,omitempty"`
	RecipientCount int            `json:"recipient_count"`
	SuccessCount   int            `json:"success_count"`
	FailureCount   int            `json:"failure_count"`
}

// OutcomeStatus is what happened to one recipient in one instance
type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the per-recipient record of an instance
type Outcome struct {
	ID          string        `json:"id"`
	InstanceID  string        `json:"instance_id"`
	RecipientID string        `json:"recipient_id"`
	Status      OutcomeStatus `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	MessageRef  string        `json:"message_ref,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// DispatchSummary is the recurring_messages job result. Interrupted counts
// the failed recipients a cancelled dispatch never reached.
type DispatchSummary struct {
	InstancesProcessed int `json:"instances_processed"`
	Sent               int `json:"sent"`
	Failed             int `json:"failed"`
	Skipped            int `json:"skipped"`
	Cancelled          int `json:"cancelled"`
	Interrupted        int `json:"interrupted,omitempty"`
}

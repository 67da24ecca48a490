package campaign

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
)

const springDefinitions = `
campaigns:
  - id: spring-dues
    name: Spring dues
    program_name: Spring Robotics
    subject: "{programName} payment reminder"
    body: "Hi {firstName}, a reminder about {programName}."
    interval: weekly
    interval_value: 2
    start_date: 2025-03-10T09:00:00Z
    end_date: 2025-06-01T00:00:00Z
    max_messages: 4
    stop_conditions: [payment_completion, max_messages]
    recipients:
      - person_id: p1
        name: Ada Lovelace
        email: ada@example.com
      - person_id: p2
        name: Grace Hopper
        email: grace@example.com
        phone: "+15550100"
  - name: Summer waitlist
    channel: sms
    body: "{parentName}, a summer spot opened up."
    interval: monthly
    start_date: 2025-05-01T08:00:00Z
    paused: true
`

func TestLoadAndApplyDefinitions(t *testing.T) {
	defs, err := LoadDefinitions(strings.NewReader(springDefinitions))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, ChannelEmail, defs[0].Channel, "channel defaults to email")
	assert.Equal(t, ChannelSMS, defs[1].Channel)

	s := newTestStore(t)
	ctx := context.Background()

	c, first, err := s.Apply(ctx, defs[0], t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "spring-dues", c.ID)
	assert.Equal(t, t0, first.ScheduledFor, "first instance fires at start_date")
	assert.Equal(t, InstanceScheduled, first.Status)

	stored, err := s.GetCampaign(ctx, "spring-dues")
	require.NoError(t, err)
	assert.Equal(t, IntervalWeekly, stored.Interval)
	assert.Equal(t, 2, stored.IntervalValue)
	require.NotNil(t, stored.MaxMessages)
	assert.Equal(t, 4, *stored.MaxMessages)
	assert.Equal(t, StopConditions{StopPaymentCompletion, StopMaxMessages}, stored.StopConditions)
	assert.True(t, stored.IsActive)

	recipients, err := s.ListRecipients(ctx, c.ID, true)
	require.NoError(t, err)
	require.Len(t, recipients, 2)
	assert.Equal(t, "grace@example.com", recipients[1].Email)

	paused, _, err := s.Apply(ctx, defs[1], t0)
	require.NoError(t, err)
	assert.NotEmpty(t, paused.ID)
	assert.False(t, paused.IsActive)
	require.NotNil(t, paused.PausedAt)

	// Applying the same ID twice is rejected and leaves nothing behind
	_, _, err = s.Apply(ctx, defs[0], t0)
	require.Error(t, err)
	all, err := s.ListCampaigns(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestApplyRollsBackOnDuplicateRecipient(t *testing.T) {
	s := newTestStore(t)
	def := Definition{
		ID:         "dup",
		Name:       "Dup",
		Body:       "hello",
		Channel:    ChannelEmail,
		Interval:   IntervalDaily,
		StartDate:  t0,
		Recipients: []RecipientDefinition{{PersonID: "p1"}, {PersonID: "p1"}},
	}

	_, _, err := s.Apply(context.Background(), def, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	_, err = s.GetCampaign(context.Background(), "dup")
	assert.True(t, errors.Is(err, ErrCampaignNotFound), "campaign insert rolled back")
}

func TestLoadDefinitionsRejects(t *testing.T) {
	base := "campaigns:\n  - name: X\n    body: hi\n    interval: daily\n    start_date: 2025-03-10T09:00:00Z\n"

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "empty campaign definitions"},
		{"unknown field", base + "    colour: red\n", "colour"},
		{"missing body", "campaigns:\n  - name: X\n    interval: daily\n    start_date: 2025-03-10T09:00:00Z\n", "body is required"},
		{"bad interval", strings.Replace(base, "daily", "hourly", 1), `unknown interval "hourly"`},
		{"bad channel", base + "    channel: fax\n", `unknown channel "fax"`},
		{"no start", "campaigns:\n  - name: X\n    body: hi\n    interval: daily\n", "start_date is required"},
		{"end before start", base + "    end_date: 2025-01-01T00:00:00Z\n", "end_date is before start_date"},
		{"zero max", base + "    max_messages: 0\n", "max_messages must be positive"},
		{"unknown stop", base + "    stop_conditions: [bounced]\n", `unknown stop condition "bounced"`},
		{"max stop without max", base + "    stop_conditions: [max_messages]\n", "needs max_messages"},
		{"recipient without id", base + "    recipients:\n      - name: Ada\n", "recipient without person_id"},
		{"duplicate recipient", base + "    recipients:\n      - person_id: p1\n      - person_id: p1\n", "duplicate recipient p1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDefinitions(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

package campaign

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
	cadencetest "github.com/teranos/cadence/internal/testing"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(cadencetest.CreateTestDB(t))
}

func seedCampaign(t *testing.T, s *Store, mutate func(*Campaign)) *Campaign {
	t.Helper()
	c := &Campaign{
		Name:            "Spring term reminders",
		Channel:         ChannelEmail,
		ProgramName:     "Spring Robotics",
		SubjectTemplate: "{programName} payment reminder",
		BodyTemplate:    "Hi {firstName}, your {programName} balance is due.",
		Interval:        IntervalWeekly,
		IntervalValue:   1,
		StartDate:       t0,
		IsActive:        true,
		CreatedAt:       t0.Add(-24 * time.Hour),
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, s.CreateCampaign(context.Background(), c))
	return c
}

func seedRecipient(t *testing.T, s *Store, campaignID, personID, name string) *Recipient {
	t.Helper()
	r := &Recipient{
		CampaignID: campaignID,
		PersonID:   personID,
		Name:       name,
		Email:      personID + "@example.com",
		Phone:      "+1555000" + personID,
		IsActive:   true,
	}
	require.NoError(t, s.AddRecipient(context.Background(), r))
	return r
}

// recordingDeliverer captures messages and fails for the listed recipients
type recordingDeliverer struct {
	mu     sync.Mutex
	sent   []Message
	failTo map[string]bool
}

func (d *recordingDeliverer) Send(_ context.Context, msg Message) (Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failTo[msg.To] {
		return Receipt{}, errors.New("mailbox unavailable")
	}
	d.sent = append(d.sent, msg)
	return Receipt{Reference: "ref-" + msg.RecipientID}, nil
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

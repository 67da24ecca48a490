package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
)

func TestCampaignRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	end := t0.AddDate(0, 3, 0)
	c := seedCampaign(t, s, func(c *Campaign) {
		c.Channel = ""
		c.IntervalValue = 0
		c.EndDate = &end
		c.MaxMessages = intPtr(5)
		c.StopConditions = StopConditions{StopUserResponse, StopMaxMessages}
	})
	assert.NotEmpty(t, c.ID)

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, got.Channel)
	assert.Equal(t, 1, got.IntervalValue)
	assert.Equal(t, t0, got.StartDate)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, end, *got.EndDate)
	assert.Equal(t, StopConditions{StopUserResponse, StopMaxMessages}, got.StopConditions)

	_, err = s.GetCampaign(ctx, "missing")
	assert.True(t, errors.Is(err, ErrCampaignNotFound))
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	dup := *c
	err = s.CreateCampaign(ctx, &dup)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestSetActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, nil)

	require.NoError(t, s.SetActive(ctx, c.ID, false, t0))
	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.PausedAt)
	assert.Equal(t, t0, *got.PausedAt)

	require.NoError(t, s.SetActive(ctx, c.ID, true, t0.Add(time.Hour)))
	got, err = s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.PausedAt)

	err = s.SetActive(ctx, "missing", true, t0)
	assert.True(t, errors.Is(err, ErrCampaignNotFound))
}

func TestRecipientLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, nil)
	a := seedRecipient(t, s, c.ID, "p2", "Grace")
	b := seedRecipient(t, s, c.ID, "p1", "Ada")

	err := s.AddRecipient(ctx, &Recipient{CampaignID: c.ID, PersonID: "p1", IsActive: true})
	assert.True(t, errors.Is(err, errors.ErrConflict), "a person subscribes once per campaign")

	require.NoError(t, s.MarkPaymentCompleted(ctx, a.ID, t0))
	require.NoError(t, s.MarkResponseReceived(ctx, b.ID))
	assert.True(t, errors.Is(s.MarkResponseReceived(ctx, "missing"), errors.ErrNotFound))

	require.NoError(t, s.DeactivateRecipient(ctx, a.ID, StopPaymentCompletion, t0))
	// A second stop does not overwrite the first reason
	require.NoError(t, s.DeactivateRecipient(ctx, a.ID, StopMaxMessages, t0.Add(time.Hour)))

	got, err := s.GetRecipient(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.PaymentCompleted)
	require.NotNil(t, got.PaymentCompletedAt)
	assert.Equal(t, StopPaymentCompletion, got.StopReason)
	assert.Equal(t, t0, *got.StoppedAt)

	all, err := s.ListRecipients(ctx, c.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p1", all[0].PersonID, "ordered by person")
	assert.True(t, all[0].ResponseReceived)

	active, err := s.ListRecipients(ctx, c.ID, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)
}

func TestInstanceOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, nil)

	inst, err := s.CreateInstance(ctx, c.ID, t0)
	require.NoError(t, err)

	_, err = s.CreateInstance(ctx, c.ID, t0.Add(time.Hour))
	assert.True(t, errors.Is(err, errors.ErrConflict), "one scheduled instance per campaign")

	owned, err := s.MarkInstanceSent(ctx, inst.ID, t0, 3)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = s.MarkInstanceSent(ctx, inst.ID, t0, 3)
	require.NoError(t, err)
	assert.False(t, owned, "second dispatcher loses")

	cancelled, err := s.CancelInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, cancelled, "sent instances cannot be cancelled")

	// Once the first has fired the next can be scheduled
	next, err := s.CreateInstance(ctx, c.ID, t0.AddDate(0, 0, 7))
	require.NoError(t, err)
	cancelled, err = s.CancelInstance(ctx, next.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	_, err = s.GetInstance(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.True(t, errors.Is(s.SetInstanceCounts(ctx, "missing", 1, 0), errors.ErrNotFound))

	all, err := s.ListInstances(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, InstanceSent, all[0].Status)
	assert.Equal(t, 3, all[0].RecipientCount)
	assert.Equal(t, InstanceCancelled, all[1].Status)
}

func TestWithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Store) error {
		c := &Campaign{ID: "tx", Name: "tx", BodyTemplate: "b", Interval: IntervalDaily, StartDate: t0, IsActive: true, CreatedAt: t0}
		require.NoError(t, tx.CreateCampaign(ctx, c))
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	_, err = s.GetCampaign(ctx, "tx")
	assert.True(t, errors.Is(err, ErrCampaignNotFound))
}

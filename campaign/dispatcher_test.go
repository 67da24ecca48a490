package campaign

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cadence/pulse/async"
)

func newTestDispatcher(t *testing.T, s *Store, d Deliverer, batch int) *Dispatcher {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	return NewDispatcher(s, NewEngine(s, log), d, batch, log)
}

func TestDispatchPartialFailureAndStops(t *testing.T) {
	t.Log("Five recipients: one paid, one replied, one bouncing mailbox, two deliverable")

	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, func(c *Campaign) {
		c.StopConditions = StopConditions{StopPaymentCompletion, StopUserResponse}
	})
	ada := seedRecipient(t, s, c.ID, "p1", "Ada Lovelace")
	paid := seedRecipient(t, s, c.ID, "p2", "Grace Hopper")
	replied := seedRecipient(t, s, c.ID, "p3", "Alan Turing")
	bounce := seedRecipient(t, s, c.ID, "p4", "Edsger Dijkstra")
	seedRecipient(t, s, c.ID, "p5", "Barbara Liskov")

	require.NoError(t, s.MarkPaymentCompleted(ctx, paid.ID, t0.Add(-time.Hour)))
	require.NoError(t, s.MarkResponseReceived(ctx, replied.ID))

	inst, err := s.CreateInstance(ctx, c.ID, t0.Add(-time.Minute))
	require.NoError(t, err)

	deliverer := &recordingDeliverer{failTo: map[string]bool{bounce.Email: true}}
	summary, err := newTestDispatcher(t, s, deliverer, 0).DispatchDue(ctx, t0)
	require.NoError(t, err)

	assert.Equal(t, DispatchSummary{InstancesProcessed: 1, Sent: 2, Failed: 1, Skipped: 2}, summary)

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceSent, got.Status)
	assert.Equal(t, 5, got.RecipientCount)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, got.RecipientCount-2, got.SuccessCount+got.FailureCount, "success+failure = N-M")
	require.NotNil(t, got.ActualSentAt)
	assert.True(t, got.ActualSentAt.Equal(t0))

	// Stopped recipients are deactivated with their reason
	r, err := s.GetRecipient(ctx, paid.ID)
	require.NoError(t, err)
	assert.False(t, r.IsActive)
	assert.Equal(t, StopPaymentCompletion, r.StopReason)
	require.NotNil(t, r.StoppedAt)

	r, err = s.GetRecipient(ctx, replied.ID)
	require.NoError(t, err)
	assert.Equal(t, StopUserResponse, r.StopReason)

	// Failed delivery does not count; success does
	r, err = s.GetRecipient(ctx, bounce.ID)
	require.NoError(t, err)
	assert.True(t, r.IsActive)
	assert.Equal(t, 0, r.MessagesSent)

	r, err = s.GetRecipient(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.MessagesSent)
	require.NotNil(t, r.LastMessageSent)
	assert.True(t, r.LastMessageSent.Equal(t0))

	// Rendered content
	require.Len(t, deliverer.sent, 2)
	assert.Equal(t, "p1@example.com", deliverer.sent[0].To)
	assert.Equal(t, "Spring Robotics payment reminder", deliverer.sent[0].Subject)
	assert.Equal(t, "Hi Ada, your Spring Robotics balance is due.", deliverer.sent[0].Body)

	outcomes, err := s.ListOutcomes(ctx, inst.ID)
	require.NoError(t, err)
	counts := map[OutcomeStatus]int{}
	for _, o := range outcomes {
		counts[o.Status]++
		switch o.Status {
		case OutcomeSent:
			assert.Equal(t, "ref-"+o.RecipientID, o.MessageRef)
		case OutcomeFailed:
			assert.Contains(t, o.Reason, "mailbox unavailable")
		case OutcomeSkipped:
			assert.NotEmpty(t, o.Reason)
		}
	}
	assert.Equal(t, map[OutcomeStatus]int{OutcomeSent: 2, OutcomeFailed: 1, OutcomeSkipped: 2}, counts)

	// Next instance one week after dispatch
	next, err := s.ScheduledInstance(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, t0.AddDate(0, 0, 7), next.ScheduledFor)
}

func TestDispatchMaxMessagesSkip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, func(c *Campaign) {
		c.MaxMessages = intPtr(3)
		c.StopConditions = StopConditions{StopMaxMessages}
	})
	veteran := seedRecipient(t, s, c.ID, "p1", "Ada")
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordDelivery(ctx, veteran.ID, t0.AddDate(0, 0, -7*(3-i))))
	}
	_, err := s.CreateInstance(ctx, c.ID, t0)
	require.NoError(t, err)

	deliverer := &recordingDeliverer{}
	summary, err := newTestDispatcher(t, s, deliverer, 0).DispatchDue(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, deliverer.sent)

	r, err := s.GetRecipient(ctx, veteran.ID)
	require.NoError(t, err)
	assert.False(t, r.IsActive)
	assert.Equal(t, StopMaxMessages, r.StopReason)
	assert.Equal(t, 3, r.MessagesSent, "a skipped recipient is not counted again")

	// Never reactivated: the next cycle does not see them at all
	next, err := s.ScheduledInstance(ctx, c.ID)
	require.NoError(t, err)
	summary, err = newTestDispatcher(t, s, deliverer, 0).DispatchDue(ctx, next.ScheduledFor)
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{InstancesProcessed: 1}, summary)
}

func TestDispatchCancelsInactiveCampaign(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, nil)
	seedRecipient(t, s, c.ID, "p1", "Ada")
	inst, err := s.CreateInstance(ctx, c.ID, t0)
	require.NoError(t, err)
	require.NoError(t, s.SetActive(ctx, c.ID, false, t0.Add(-time.Minute)))

	deliverer := &recordingDeliverer{}
	summary, err := newTestDispatcher(t, s, deliverer, 0).DispatchDue(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{InstancesProcessed: 1, Cancelled: 1}, summary)
	assert.Empty(t, deliverer.sent)

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceCancelled, got.Status)

	pending, err := s.ScheduledInstance(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, pending, "a cancelled campaign schedules nothing")
}

func TestDispatchBatchCapAndDueOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		c := seedCampaign(t, s, nil)
		_, err := s.CreateInstance(ctx, c.ID, t0.Add(-time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	future := seedCampaign(t, s, nil)
	_, err := s.CreateInstance(ctx, future.ID, t0.Add(time.Hour))
	require.NoError(t, err)

	d := newTestDispatcher(t, s, &recordingDeliverer{}, 3)
	first, err := d.DispatchDue(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 3, first.InstancesProcessed)

	second, err := d.DispatchDue(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, second.InstancesProcessed, "the future instance is not due")
}

func TestDispatchMissingAddressIsFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, func(c *Campaign) { c.Channel = ChannelSMS })
	r := &Recipient{CampaignID: c.ID, PersonID: "p1", Name: "Ada", Email: "ada@example.com", IsActive: true}
	require.NoError(t, s.AddRecipient(ctx, r))
	inst, err := s.CreateInstance(ctx, c.ID, t0)
	require.NoError(t, err)

	summary, err := newTestDispatcher(t, s, &recordingDeliverer{}, 0).DispatchDue(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	outcomes, err := s.ListOutcomes(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "recipient has no sms address", outcomes[0].Reason)
}

func TestDispatcherAsJobHandler(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	target := seedCampaign(t, s, nil)
	other := seedCampaign(t, s, nil)
	seedRecipient(t, s, target.ID, "p1", "Ada")
	_, err := s.CreateInstance(ctx, target.ID, t0)
	require.NoError(t, err)
	otherInst, err := s.CreateInstance(ctx, other.ID, t0)
	require.NoError(t, err)

	d := newTestDispatcher(t, s, &recordingDeliverer{}, 0)
	assert.Equal(t, async.JobTypeRecurringMessages, d.JobType())

	claimedAt := t0.Add(time.Minute)
	job := &async.Job{
		ID:         "job-1",
		Type:       async.JobTypeRecurringMessages,
		StartedAt:  &claimedAt,
		Parameters: json.RawMessage(`{"campaign_id":"` + target.ID + `"}`),
	}
	out, err := d.Execute(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{InstancesProcessed: 1, Sent: 1}, out)

	untouched, err := s.GetInstance(ctx, otherInst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceScheduled, untouched.Status, "params restrict dispatch to one campaign")

	next, err := s.ScheduledInstance(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, claimedAt.AddDate(0, 0, 7), next.ScheduledFor, "handler uses the claim time as now")
}

// cancellingDeliverer cancels the dispatch context after its first successful
// send, as a shutdown signal arriving mid-fan-out would
type cancellingDeliverer struct {
	recordingDeliverer
	cancel context.CancelFunc
}

func (d *cancellingDeliverer) Send(ctx context.Context, msg Message) (Receipt, error) {
	receipt, err := d.recordingDeliverer.Send(ctx, msg)
	if err == nil {
		d.cancel()
	}
	return receipt, err
}

func TestDispatchCancelledMidFanOutKeepsBookkeeping(t *testing.T) {
	s := newTestStore(t)
	c := seedCampaign(t, s, nil)
	first := seedRecipient(t, s, c.ID, "p1", "Ada Lovelace")
	second := seedRecipient(t, s, c.ID, "p2", "Grace Hopper")
	third := seedRecipient(t, s, c.ID, "p3", "Alan Turing")
	inst, err := s.CreateInstance(context.Background(), c.ID, t0.Add(-time.Minute))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inner := &cancellingDeliverer{cancel: cancel}
	throttled := NewThrottledDeliverer(inner, 1)

	summary, err := newTestDispatcher(t, s, throttled, 0).DispatchDue(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{InstancesProcessed: 1, Sent: 1, Failed: 2, Interrupted: 2}, summary)
	require.Len(t, inner.sent, 1, "no send after cancellation")
	assert.Equal(t, first.ID, inner.sent[0].RecipientID)

	bg := context.Background()
	got, err := s.GetInstance(bg, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceSent, got.Status)
	assert.Equal(t, 3, got.RecipientCount)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, 2, got.FailureCount)

	r, err := s.GetRecipient(bg, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.MessagesSent)
	require.NotNil(t, r.LastMessageSent)

	outcomes, err := s.ListOutcomes(bg, inst.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, OutcomeSent, outcomes[0].Status)
	assert.Equal(t, "ref-"+first.ID, outcomes[0].MessageRef)
	for _, o := range outcomes[1:] {
		assert.Equal(t, OutcomeFailed, o.Status)
		assert.Equal(t, interruptedReason, o.Reason)
	}
	assert.ElementsMatch(t, []string{second.ID, third.ID}, []string{outcomes[1].RecipientID, outcomes[2].RecipientID})

	for _, id := range []string{second.ID, third.ID} {
		r, err := s.GetRecipient(bg, id)
		require.NoError(t, err)
		assert.True(t, r.IsActive, "interrupted recipients stay subscribed")
		assert.Equal(t, 0, r.MessagesSent)
	}

	next, err := s.ScheduledInstance(bg, c.ID)
	require.NoError(t, err)
	require.NotNil(t, next, "the campaign is not stranded")
	assert.True(t, next.ScheduledFor.Equal(t0.AddDate(0, 0, 7)))
}

func TestDispatchCancelledLeavesLaterInstancesScheduled(t *testing.T) {
	s := newTestStore(t)
	early := seedCampaign(t, s, nil)
	late := seedCampaign(t, s, nil)
	seedRecipient(t, s, early.ID, "p1", "Ada Lovelace")
	seedRecipient(t, s, late.ID, "p2", "Grace Hopper")
	bg := context.Background()
	earlyInst, err := s.CreateInstance(bg, early.ID, t0.Add(-2*time.Minute))
	require.NoError(t, err)
	lateInst, err := s.CreateInstance(bg, late.ID, t0.Add(-time.Minute))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(bg)
	defer cancel()
	summary, err := newTestDispatcher(t, s, &cancellingDeliverer{cancel: cancel}, 0).DispatchDue(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{InstancesProcessed: 1, Sent: 1}, summary)

	got, err := s.GetInstance(bg, earlyInst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceSent, got.Status)
	assert.Equal(t, 1, got.SuccessCount)

	got, err = s.GetInstance(bg, lateInst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceScheduled, got.Status, "picked up by the next dispatch")
}

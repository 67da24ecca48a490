package campaign

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
)

func TestCampaignStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, func(c *Campaign) {
		c.StopConditions = StopConditions{StopPaymentCompletion}
	})
	quiet := seedCampaign(t, s, nil)

	seedRecipient(t, s, c.ID, "p1", "Ada")
	paid := seedRecipient(t, s, c.ID, "p2", "Grace")
	bounce := seedRecipient(t, s, c.ID, "p3", "Alan")
	require.NoError(t, s.MarkPaymentCompleted(ctx, paid.ID, t0))

	_, err := s.CreateInstance(ctx, c.ID, t0)
	require.NoError(t, err)
	d := newTestDispatcher(t, s, &recordingDeliverer{failTo: map[string]bool{bounce.Email: true}}, 0)
	_, err = d.DispatchDue(ctx, t0)
	require.NoError(t, err)

	stats, err := s.CampaignStats(ctx, "")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	var st *Stats
	for _, x := range stats {
		if x.CampaignID == c.ID {
			st = x
		}
	}
	require.NotNil(t, st)
	assert.Equal(t, map[InstanceStatus]int{InstanceSent: 1, InstanceScheduled: 1}, st.Instances)
	assert.Equal(t, 1, st.Successes)
	assert.Equal(t, 1, st.Failures)
	assert.Equal(t, 2, st.ActiveRecipients)
	assert.Equal(t, map[StopCondition]int{StopPaymentCompletion: 1}, st.StoppedRecipients)

	only, err := s.CampaignStats(ctx, quiet.ID)
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Empty(t, only[0].Instances)
	assert.Equal(t, 0, only[0].ActiveRecipients)

	_, err = s.CampaignStats(ctx, "missing")
	assert.True(t, errors.Is(err, ErrCampaignNotFound))
}

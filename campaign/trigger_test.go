package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/async"
)

func newTestTrigger(t *testing.T) (*Trigger, *Store, *async.Store) {
	t.Helper()
	s := newTestStore(t)
	jobs := async.NewStoreWithClock(s.db, func() time.Time { return t0 })
	return NewTrigger(s, jobs, 2, zaptest.NewLogger(t).Sugar()), s, jobs
}

func recurringJobs(t *testing.T, jobs *async.Store) []*async.Job {
	t.Helper()
	list, err := jobs.ListJobs(context.Background(), async.ListFilter{Type: async.JobTypeRecurringMessages})
	require.NoError(t, err)
	return list
}

func TestTriggerEnqueuesWhenInstancesAreDue(t *testing.T) {
	trigger, s, jobs := newTestTrigger(t)
	ctx := context.Background()
	c := seedCampaign(t, s, nil)
	_, err := s.CreateInstance(ctx, c.ID, t0.Add(-time.Minute))
	require.NoError(t, err)

	n, err := trigger.EnqueueDue(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list := recurringJobs(t, jobs)
	require.Len(t, list, 1)
	assert.Equal(t, async.JobStatusPending, list[0].Status)
	assert.True(t, list[0].ScheduledFor.Equal(t0))
	assert.Equal(t, 2, list[0].MaxRetries)
	assert.JSONEq(t, `{}`, string(list[0].Parameters))

	// A second pass before the job ran adds nothing
	n, err = trigger.EnqueueDue(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, recurringJobs(t, jobs), 1)
}

func TestTriggerIgnoresFutureInstances(t *testing.T) {
	trigger, s, jobs := newTestTrigger(t)
	ctx := context.Background()
	c := seedCampaign(t, s, nil)
	_, err := s.CreateInstance(ctx, c.ID, t0.Add(time.Hour))
	require.NoError(t, err)

	n, err := trigger.EnqueueDue(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, recurringJobs(t, jobs))

	n, err = trigger.EnqueueDue(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTriggerWaitsForRunningOrBackedOffDispatch(t *testing.T) {
	trigger, s, jobs := newTestTrigger(t)
	ctx := context.Background()
	c := seedCampaign(t, s, nil)
	_, err := s.CreateInstance(ctx, c.ID, t0.Add(-time.Minute))
	require.NoError(t, err)

	// A failed dispatch waiting out its backoff still blocks a new one
	retry := t0.Add(10 * time.Minute)
	backedOff, err := jobs.Enqueue(ctx, async.RecurringMessagesParams{}, async.EnqueueOptions{ScheduledFor: retry})
	require.NoError(t, err)

	n, err := trigger.EnqueueDue(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, n)

	claimed, err := jobs.Claim(ctx, backedOff.ID, retry)
	require.NoError(t, err)
	require.True(t, claimed)
	n, err = trigger.EnqueueDue(ctx, retry)
	require.NoError(t, err)
	assert.Zero(t, n, "running dispatch")

	status := async.JobStatusFailed
	require.NoError(t, jobs.UpdateJob(ctx, backedOff.ID, async.JobPatch{Status: &status, UpdatedAt: retry}))
	n, err = trigger.EnqueueDue(ctx, retry)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type failingQueue struct{}

func (failingQueue) CountActive(context.Context, async.JobType) (int, error) {
	return 0, errors.New("database is locked")
}

func (failingQueue) Enqueue(context.Context, async.Params, async.EnqueueOptions) (*async.Job, error) {
	panic("enqueue after failed count")
}

func TestTriggerReportsQueueErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, nil)
	_, err := s.CreateInstance(ctx, c.ID, t0.Add(-time.Minute))
	require.NoError(t, err)

	_, err = NewTrigger(s, failingQueue{}, 0, zaptest.NewLogger(t).Sugar()).EnqueueDue(ctx, t0)
	assert.ErrorContains(t, err, "database is locked")
}

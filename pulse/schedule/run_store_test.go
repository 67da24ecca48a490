package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
	cadencetest "github.com/teranos/cadence/internal/testing"
)

func TestRunStoreLifecycle(t *testing.T) {
	store := NewRunStore(cadencetest.CreateTestDB(t))
	ctx := context.Background()

	run := &Run{ID: "run-1", Trigger: TriggerCron, StartedAt: t0}
	require.NoError(t, store.CreateRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, TriggerCron, got.Trigger)
	assert.True(t, got.StartedAt.Equal(t0))
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.DurationMs)

	run.ProcessedJobs, run.Succeeded, run.Failed, run.Retried = 4, 2, 1, 1
	run.ErrorMessage = "job job-9: database is locked"
	run.completeAt(t0.Add(3*time.Second), 2500*time.Millisecond)
	require.NoError(t, store.CompleteRun(ctx, run))

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.ProcessedJobs)
	assert.Equal(t, 2, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 1, got.Retried)
	require.NotNil(t, got.DurationMs)
	assert.Equal(t, int64(2500), *got.DurationMs)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(t0.Add(3*time.Second)))
	assert.Equal(t, "job job-9: database is locked", got.ErrorMessage)
}

func TestRunStoreNotFound(t *testing.T) {
	store := NewRunStore(cadencetest.CreateTestDB(t))

	_, err := store.GetRun(context.Background(), "missing")
	assert.True(t, errors.IsNotFoundError(err))

	err = store.CompleteRun(context.Background(), &Run{ID: "missing"})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListRunsNewestFirst(t *testing.T) {
	store := NewRunStore(cadencetest.CreateTestDB(t))
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateRun(ctx, &Run{ID: id, Trigger: TriggerTicker, StartedAt: t0.Add(time.Duration(i) * time.Minute)}))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

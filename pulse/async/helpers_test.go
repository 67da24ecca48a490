package async

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cadencetest "github.com/teranos/cadence/internal/testing"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func fixedClock(at time.Time) Clock {
	return func() time.Time { return at }
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStoreWithClock(cadencetest.CreateTestDB(t), fixedClock(t0))
}

// insertJob writes a pending job directly, bypassing Enqueue defaults
func insertJob(t *testing.T, s *Store, id string, jobType JobType, priority int, scheduledFor time.Time) *Job {
	t.Helper()
	job := &Job{
		ID:           id,
		Type:         jobType,
		Status:       JobStatusPending,
		Priority:     priority,
		ScheduledFor: scheduledFor,
		MaxRetries:   DefaultMaxRetries,
		Parameters:   json.RawMessage(`{}`),
		CreatedAt:    t0.Add(-time.Hour),
		UpdatedAt:    t0.Add(-time.Hour),
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func mustGet(t *testing.T, s *Store, id string) *Job {
	t.Helper()
	job, err := s.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func ptr[T any](v T) *T { return &v }

package async

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cadence/db"
)

var jobColumns = []string{
	"id", "type", "status", "priority", "scheduled_for",
	"started_at", "completed_at", "progress", "parameters", "result",
	"error_message", "retry_count", "max_retries", "next_retry_at",
	"created_at", "updated_at",
}

func pendingRow(id string, priority int, scheduled time.Time) []driver.Value {
	ts := db.FormatTime(scheduled)
	return []driver.Value{
		id, "report_generation", "pending", priority, ts,
		nil, nil, 0, `{"kind":"jobs"}`, nil,
		nil, 0, 3, nil,
		ts, ts,
	}
}

func TestClaimBatchSQLShape(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	now := db.FormatTime(t0)
	rows := sqlmock.NewRows(jobColumns).
		AddRow(pendingRow("job-1", 1, t0.Add(-time.Hour))...).
		AddRow(pendingRow("job-2", 5, t0.Add(-time.Minute))...)

	mock.ExpectQuery(`SELECT .+ FROM jobs\s+WHERE status = 'pending' AND scheduled_for <= \?\s+ORDER BY priority ASC, scheduled_for ASC\s+LIMIT \?`).
		WithArgs(now, 5).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE jobs\s+SET status = 'running', started_at = \?, progress = 0, updated_at = \?\s+WHERE id = \? AND status = 'pending'`).
		WithArgs(now, now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// job-2 was claimed by another runner between SELECT and UPDATE
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(now, now, "job-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	runner := NewRunner(NewStore(conn), NewHandlerRegistry(), WithLogger(zaptest.NewLogger(t).Sugar()))
	claimed, err := runner.ClaimBatch(context.Background(), 0, t0)
	require.NoError(t, err)

	require.Len(t, claimed, 1, "lost race must be skipped")
	assert.Equal(t, "job-1", claimed[0].ID)
	assert.Equal(t, JobStatusRunning, claimed[0].Status)
	require.NotNil(t, claimed[0].StartedAt)
	assert.True(t, claimed[0].StartedAt.Equal(t0))
	assert.Equal(t, 0, claimed[0].Progress)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatchReturnsPartialOnStoreError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	rows := sqlmock.NewRows(jobColumns).
		AddRow(pendingRow("job-1", 1, t0)...).
		AddRow(pendingRow("job-2", 1, t0)...)
	mock.ExpectQuery(`SELECT .+ FROM jobs`).WillReturnRows(rows)
	mock.ExpectExec(`UPDATE jobs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE jobs`).WillReturnError(fmt.Errorf("disk I/O error"))

	runner := NewRunner(NewStore(conn), NewHandlerRegistry())
	claimed, err := runner.ClaimBatch(context.Background(), 2, t0)
	require.Error(t, err)
	require.Len(t, claimed, 1, "already-claimed jobs are handed back for execution")
	assert.Equal(t, "job-1", claimed[0].ID)
}

func TestConcurrentClaimersNeverOverlap(t *testing.T) {
	s := newTestStore(t)
	const total = 40
	for i := 0; i < total; i++ {
		insertJob(t, s, fmt.Sprintf("job-%02d", i), JobTypeReportGeneration, i%3, t0.Add(-time.Duration(i)*time.Second))
	}

	const claimers = 6
	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for c := 0; c < claimers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner := NewRunner(s, NewHandlerRegistry())
			for {
				claimed, err := runner.ClaimBatch(context.Background(), 5, t0)
				if !assert.NoError(t, err) {
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, j := range claimed {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total, "every job claimed")
	var dupes []string
	for id, n := range seen {
		if n != 1 {
			dupes = append(dupes, id)
		}
	}
	sort.Strings(dupes)
	assert.Empty(t, dupes, "jobs handed to more than one claimer")
}

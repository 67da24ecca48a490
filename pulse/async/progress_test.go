package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportProgressOutsideRunnerIsNoop(t *testing.T) {
	assert.NoError(t, ReportProgress(context.Background(), 50))
}

func TestReportProgressCapsAndNeverRegresses(t *testing.T) {
	s := newTestStore(t)
	job := insertJob(t, s, "job-1", JobTypeReportGeneration, 5, t0)
	ctx := withProgress(context.Background(), s, job, fixedClock(t0))

	require.NoError(t, ReportProgress(ctx, 60))
	assert.Equal(t, 60, mustGet(t, s, "job-1").Progress)

	require.NoError(t, ReportProgress(ctx, 30))
	assert.Equal(t, 60, mustGet(t, s, "job-1").Progress)

	require.NoError(t, ReportProgress(ctx, 150))
	assert.Equal(t, 99, mustGet(t, s, "job-1").Progress)
}

func TestFraction(t *testing.T) {
	assert.Equal(t, 0, Fraction(0, 10))
	assert.Equal(t, 0, Fraction(3, 0))
	assert.Equal(t, 25, Fraction(1, 4))
	assert.Equal(t, 99, Fraction(4, 4))
}

package async

import (
	"context"
	"time"
)

type progressKey struct{}

// progressReporter writes a running job's progress column
type progressReporter struct {
	store JobStore
	jobID string
	clock Clock
	last  int
}

// withProgress attaches a reporter for job to ctx
func withProgress(ctx context.Context, store JobStore, job *Job, clock Clock) context.Context {
	return context.WithValue(ctx, progressKey{}, &progressReporter{store: store, jobID: job.ID, clock: clock})
}

// ReportProgress records partial progress (0-99) for the job running under
// ctx. It is a no-op outside a runner, and when percent does not advance.
// 100 is reserved for completion.
func ReportProgress(ctx context.Context, percent int) error {
	p, ok := ctx.Value(progressKey{}).(*progressReporter)
	if !ok {
		return nil
	}
	if percent > 99 {
		percent = 99
	}
	if percent <= p.last {
		return nil
	}

	var now time.Time
	if p.clock != nil {
		now = p.clock()
	} else {
		now = time.Now()
	}
	if err := p.store.UpdateJob(ctx, p.jobID, JobPatch{Progress: &percent, UpdatedAt: now}); err != nil {
		return err
	}
	p.last = percent
	return nil
}

// Fraction converts done/total to a 0-99 progress value
func Fraction(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 99
	}
	return done * 100 / total
}

package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
)

// Store answers allowance questions from the jobs table
type Store struct {
	db *sql.DB
}

// NewStore creates a new budget store
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

// CompletedSince counts jobs of jobType that completed after since
func (s *Store) CompletedSince(ctx context.Context, jobType string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE type = ? AND status = 'completed' AND completed_at >= ?`,
		jobType, db.FormatTime(since)).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count completed %s jobs", jobType)
	}
	return n, nil
}

// CheckDaily returns ErrBudgetExceeded when limit jobs of jobType already
// completed in the 24 hours before now. The window slides, so there is no
// midnight reset to game. A limit <= 0 disables the check.
func (s *Store) CheckDaily(ctx context.Context, jobType string, limit int, now time.Time) error {
	if limit <= 0 {
		return nil
	}
	n, err := s.CompletedSince(ctx, jobType, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if n >= limit {
		err := errors.Wrapf(ErrBudgetExceeded, "daily limit of %d %s jobs reached", limit, jobType)
		return errors.WithDetail(err, fmt.Sprintf("Completed in last 24h: %d", n))
	}
	return nil
}

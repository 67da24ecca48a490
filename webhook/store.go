package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
)

// DefaultReplayLimit bounds one replay job when its parameters set no limit
const DefaultReplayLimit = 50

// Store persists webhook events
type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

// Record stores an inbound event as received. The payload must be valid JSON.
func (s *Store) Record(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Source == "" || e.TargetURL == "" {
		return errors.NewInvalidRequestError("webhook event needs a source and a target URL")
	}
	if !json.Valid(e.Payload) {
		return errors.NewInvalidRequestError("webhook payload for %s is not valid JSON", e.Source)
	}
	e.Status = StatusReceived

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, source, target_url, payload, status, attempts, received_at)
		VALUES (?, ?, ?, ?, 'received', 0, ?)`,
		e.ID, e.Source, e.TargetURL, string(e.Payload), db.FormatTime(e.ReceivedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to record webhook event from %s", e.Source)
	}
	return nil
}

const eventColumns = `id, source, target_url, payload, status, attempts, last_error, received_at, replayed_at`

// Get loads one event
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("webhook event %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get webhook event %s", id)
	}
	return e, nil
}

// Selector narrows which events a replay picks up
type Selector struct {
	IDs    []string
	Source string
	Limit  int
}

// ListReplayable returns received or failed events matching sel, oldest
// first. Replayed events are never returned.
func (s *Store) ListReplayable(ctx context.Context, sel Selector) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE status IN ('received', 'failed')`
	var args []any
	if len(sel.IDs) > 0 {
		query += ` AND id IN (?` + strings.Repeat(", ?", len(sel.IDs)-1) + `)`
		for _, id := range sel.IDs {
			args = append(args, id)
		}
	}
	if sel.Source != "" {
		query += ` AND source = ?`
		args = append(args, sel.Source)
	}
	limit := sel.Limit
	if limit <= 0 {
		limit = DefaultReplayLimit
	}
	query += ` ORDER BY received_at, id LIMIT ?`
	args = append(args, limit)

	return s.query(ctx, query, args...)
}

// List returns the newest events, optionally only those with status
func (s *Store) List(ctx context.Context, status Status, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = DefaultReplayLimit
	}
	if status == "" {
		return s.query(ctx, `SELECT `+eventColumns+` FROM webhook_events ORDER BY received_at DESC LIMIT ?`, limit)
	}
	return s.query(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE status = ?
		ORDER BY received_at DESC LIMIT ?`, string(status), limit)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query webhook events")
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan webhook event")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "error iterating webhook events")
}

// MarkReplayed records a successful replay. It only moves events that are
// not already replayed and reports whether it did.
func (s *Store) MarkReplayed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = 'replayed', attempts = attempts + 1, last_error = NULL, replayed_at = ?
		WHERE id = ? AND status != 'replayed'`,
		db.FormatTime(at), id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to mark webhook event %s replayed", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return n == 1, nil
}

// MarkFailed records a failed attempt
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = 'failed', attempts = attempts + 1, last_error = ?
		WHERE id = ? AND status != 'replayed'`,
		cause.Error(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark webhook event %s failed", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e                   Event
		payload, status     string
		lastErr, replayedAt sql.NullString
		receivedAt          string
	)
	if err := row.Scan(&e.ID, &e.Source, &e.TargetURL, &payload, &status, &e.Attempts,
		&lastErr, &receivedAt, &replayedAt); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.Status = Status(status)
	e.LastError = lastErr.String

	var err error
	if e.ReceivedAt, err = db.ParseTime(receivedAt); err != nil {
		return nil, err
	}
	if e.ReplayedAt, err = db.ParseNullTime(replayedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

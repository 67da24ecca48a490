package campaign

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists campaigns, recipients, instances and delivery outcomes
type Store struct {
	db *sql.DB
	q  querier
}

// NewStore creates a campaign store over conn
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, q: conn}
}

// WithTx runs fn against a store bound to one transaction
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin campaign transaction")
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit campaign transaction")
	}
	return nil
}

// CreateCampaign inserts c, assigning an ID when empty
func (s *Store) CreateCampaign(ctx context.Context, c *Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Channel == "" {
		c.Channel = ChannelEmail
	}
	if c.IntervalValue <= 0 {
		c.IntervalValue = 1
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO campaigns (
			id, name, channel, program_name, subject_template, body_template,
			interval_kind, interval_value, start_date, end_date, max_messages,
			stop_conditions, is_active, paused_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, string(c.Channel), c.ProgramName, c.SubjectTemplate, c.BodyTemplate,
		string(c.Interval), c.IntervalValue, db.FormatTime(c.StartDate), db.NullTime(c.EndDate), nullInt(c.MaxMessages),
		c.StopConditions.String(), c.IsActive, db.NullTime(c.PausedAt), db.FormatTime(c.CreatedAt),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.Wrapf(errors.ErrConflict, "campaign %s already exists", c.ID)
		}
		return errors.Wrapf(err, "failed to create campaign %s", c.Name)
	}
	return nil
}

const campaignColumns = `id, name, channel, program_name, subject_template, body_template,
	interval_kind, interval_value, start_date, end_date, max_messages,
	stop_conditions, is_active, paused_at, created_at`

// GetCampaign loads one campaign
func (s *Store) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrCampaignNotFound, "%s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get campaign %s", id)
	}
	return c, nil
}

// ListCampaigns returns all campaigns, newest first
func (s *Store) ListCampaigns(ctx context.Context) ([]*Campaign, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list campaigns")
	}
	defer rows.Close()

	var out []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan campaign")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "error iterating campaigns")
}

// SetActive pauses (active=false) or resumes a campaign. Pausing stamps
// paused_at; resuming clears it.
func (s *Store) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	var pausedAt *time.Time
	if !active {
		pausedAt = &now
	}
	res, err := s.q.ExecContext(ctx, `UPDATE campaigns SET is_active = ?, paused_at = ? WHERE id = ?`,
		active, db.NullTime(pausedAt), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update campaign %s", id)
	}
	return expectOne(res, ErrCampaignNotFound, id)
}

// AddRecipient subscribes a person to a campaign
func (s *Store) AddRecipient(ctx context.Context, r *Recipient) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO campaign_recipients (id, campaign_id, person_id, name, email, phone, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CampaignID, r.PersonID, r.Name, r.Email, r.Phone, r.IsActive)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.Wrapf(errors.ErrConflict, "person %s is already a recipient of campaign %s", r.PersonID, r.CampaignID)
		}
		return errors.Wrapf(err, "failed to add recipient %s", r.PersonID)
	}
	return nil
}

const recipientColumns = `id, campaign_id, person_id, name, email, phone, is_active,
	messages_sent, last_message_sent, stopped_at, stop_reason,
	payment_completed, payment_completed_at, response_received`

// GetRecipient loads one recipient
func (s *Store) GetRecipient(ctx context.Context, id string) (*Recipient, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM campaign_recipients WHERE id = ?`, id)
	r, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("recipient %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get recipient %s", id)
	}
	return r, nil
}

// ListRecipients returns a campaign's recipients; activeOnly drops stopped ones
func (s *Store) ListRecipients(ctx context.Context, campaignID string, activeOnly bool) ([]*Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM campaign_recipients WHERE campaign_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY person_id`

	rows, err := s.q.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list recipients of campaign %s", campaignID)
	}
	defer rows.Close()

	var out []*Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan recipient")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "error iterating recipients")
}

// DeactivateRecipient retires a recipient with reason. An already inactive
// recipient keeps its original stop reason.
func (s *Store) DeactivateRecipient(ctx context.Context, id string, reason StopCondition, now time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET is_active = 0, stopped_at = ?, stop_reason = ?
		WHERE id = ? AND is_active = 1`,
		db.FormatTime(now), string(reason), id)
	if err != nil {
		return errors.Wrapf(err, "failed to deactivate recipient %s", id)
	}
	return nil
}

// RecordDelivery counts one successful send to the recipient
func (s *Store) RecordDelivery(ctx context.Context, id string, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET messages_sent = messages_sent + 1, last_message_sent = ?
		WHERE id = ?`,
		db.FormatTime(now), id)
	if err != nil {
		return errors.Wrapf(err, "failed to record delivery to recipient %s", id)
	}
	return expectOne(res, errors.ErrNotFound, "recipient "+id)
}

// MarkPaymentCompleted flags the recipient as paid. The stop condition takes
// effect at the next dispatch.
func (s *Store) MarkPaymentCompleted(ctx context.Context, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE campaign_recipients SET payment_completed = 1, payment_completed_at = ? WHERE id = ?`,
		db.FormatTime(at), id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark payment for recipient %s", id)
	}
	return expectOne(res, errors.ErrNotFound, "recipient "+id)
}

// MarkResponseReceived flags that the recipient replied
func (s *Store) MarkResponseReceived(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE campaign_recipients SET response_received = 1 WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark response for recipient %s", id)
	}
	return expectOne(res, errors.ErrNotFound, "recipient "+id)
}

// CreateInstance schedules a firing. It returns a wrapped ErrConflict when
// the campaign already has a scheduled instance.
func (s *Store) CreateInstance(ctx context.Context, campaignID string, at time.Time) (*Instance, error) {
	inst := &Instance{
		ID:           uuid.New().String(),
		CampaignID:   campaignID,
		ScheduledFor: at,
		Status:       InstanceScheduled,
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO campaign_instances (id, campaign_id, scheduled_for, status)
		VALUES (?, ?, ?, 'scheduled')`,
		inst.ID, campaignID, db.FormatTime(at))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errors.Wrapf(errors.ErrConflict, "campaign %s already has a scheduled instance", campaignID)
		}
		return nil, errors.Wrapf(err, "failed to create instance for campaign %s", campaignID)
	}
	return inst, nil
}

const instanceColumns = `id, campaign_id, scheduled_for, status, actual_sent_at,
	recipient_count, success_count, failure_count`

// GetInstance loads one instance
func (s *Store) GetInstance(ctx context.Context, id string) (*Instance, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM campaign_instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("instance %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get instance %s", id)
	}
	return inst, nil
}

// FindDueInstances returns scheduled instances due at now, oldest first.
// A non-empty campaignID restricts the search to that campaign.
func (s *Store) FindDueInstances(ctx context.Context, now time.Time, limit int, campaignID string) ([]*Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM campaign_instances
		WHERE status = 'scheduled' AND scheduled_for <= ?`
	args := []any{db.FormatTime(now)}
	if campaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, campaignID)
	}
	query += ` ORDER BY scheduled_for ASC, id LIMIT ?`
	args = append(args, limit)

	return s.queryInstances(ctx, query, args...)
}

// ScheduledInstance returns the campaign's pending instance, or nil
func (s *Store) ScheduledInstance(ctx context.Context, campaignID string) (*Instance, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM campaign_instances
		WHERE campaign_id = ? AND status = 'scheduled'`, campaignID)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find scheduled instance of campaign %s", campaignID)
	}
	return inst, nil
}

// ListInstances returns a campaign's instances, oldest first
func (s *Store) ListInstances(ctx context.Context, campaignID string) ([]*Instance, error) {
	return s.queryInstances(ctx, `SELECT `+instanceColumns+` FROM campaign_instances
		WHERE campaign_id = ? ORDER BY scheduled_for ASC, id`, campaignID)
}

func (s *Store) queryInstances(ctx context.Context, query string, args ...any) ([]*Instance, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query instances")
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan instance")
		}
		out = append(out, inst)
	}
	return out, errors.Wrap(rows.Err(), "error iterating instances")
}

// MarkInstanceSent moves a scheduled instance to sent. It reports false when
// the instance was no longer scheduled, meaning another dispatcher owns it.
func (s *Store) MarkInstanceSent(ctx context.Context, id string, now time.Time, recipientCount int) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE campaign_instances
		SET status = 'sent', actual_sent_at = ?, recipient_count = ?
		WHERE id = ? AND status = 'scheduled'`,
		db.FormatTime(now), recipientCount, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to mark instance %s sent", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return n == 1, nil
}

// CancelInstance moves a scheduled instance to cancelled
func (s *Store) CancelInstance(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE campaign_instances SET status = 'cancelled' WHERE id = ? AND status = 'scheduled'`, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to cancel instance %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return n == 1, nil
}

// SetInstanceCounts stores the observed delivery totals
func (s *Store) SetInstanceCounts(ctx context.Context, id string, success, failure int) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE campaign_instances SET success_count = ?, failure_count = ? WHERE id = ?`,
		success, failure, id)
	if err != nil {
		return errors.Wrapf(err, "failed to update counts of instance %s", id)
	}
	return expectOne(res, errors.ErrNotFound, "instance "+id)
}

// RecordOutcome persists one recipient's outcome
func (s *Store) RecordOutcome(ctx context.Context, o *Outcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO delivery_outcomes (id, instance_id, recipient_id, status, reason, message_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.InstanceID, o.RecipientID, string(o.Status), nullString(o.Reason), nullString(o.MessageRef),
		db.FormatTime(o.CreatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to record %s outcome for recipient %s", o.Status, o.RecipientID)
	}
	return nil
}

// ListOutcomes returns an instance's outcomes in recording order
func (s *Store) ListOutcomes(ctx context.Context, instanceID string) ([]*Outcome, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, instance_id, recipient_id, status, reason, message_ref, created_at
		FROM delivery_outcomes WHERE instance_id = ? ORDER BY rowid`, instanceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list outcomes of instance %s", instanceID)
	}
	defer rows.Close()

	var out []*Outcome
	for rows.Next() {
		var (
			o                 Outcome
			status, createdAt string
			reason, ref       sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.InstanceID, &o.RecipientID, &status, &reason, &ref, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan outcome")
		}
		o.Status = OutcomeStatus(status)
		o.Reason = reason.String
		o.MessageRef = ref.String
		if o.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, errors.Wrap(rows.Err(), "error iterating outcomes")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*Campaign, error) {
	var (
		c                    Campaign
		channel, kind, stops string
		startDate, createdAt string
		endDate, pausedAt    sql.NullString
		maxMessages          sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.Name, &channel, &c.ProgramName, &c.SubjectTemplate, &c.BodyTemplate,
		&kind, &c.IntervalValue, &startDate, &endDate, &maxMessages,
		&stops, &c.IsActive, &pausedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	c.Channel = Channel(channel)
	c.Interval = IntervalKind(kind)
	if maxMessages.Valid {
		m := int(maxMessages.Int64)
		c.MaxMessages = &m
	}
	if c.StopConditions, err = ParseStopConditions(stops); err != nil {
		return nil, err
	}
	if c.StartDate, err = db.ParseTime(startDate); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if c.EndDate, err = db.ParseNullTime(endDate); err != nil {
		return nil, err
	}
	if c.PausedAt, err = db.ParseNullTime(pausedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanRecipient(row rowScanner) (*Recipient, error) {
	var (
		r                                   Recipient
		lastSent, stoppedAt, paidAt, reason sql.NullString
	)
	err := row.Scan(&r.ID, &r.CampaignID, &r.PersonID, &r.Name, &r.Email, &r.Phone, &r.IsActive,
		&r.MessagesSent, &lastSent, &stoppedAt, &reason,
		&r.PaymentCompleted, &paidAt, &r.ResponseReceived)
	if err != nil {
		return nil, err
	}

	r.StopReason = StopCondition(reason.String)
	if r.LastMessageSent, err = db.ParseNullTime(lastSent); err != nil {
		return nil, err
	}
	if r.StoppedAt, err = db.ParseNullTime(stoppedAt); err != nil {
		return nil, err
	}
	if r.PaymentCompletedAt, err = db.ParseNullTime(paidAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanInstance(row rowScanner) (*Instance, error) {
	var (
		inst                 Instance
		scheduledFor, status string
		sentAt               sql.NullString
	)
	err := row.Scan(&inst.ID, &inst.CampaignID, &scheduledFor, &status, &sentAt,
		&inst.RecipientCount, &inst.SuccessCount, &inst.FailureCount)
	if err != nil {
		return nil, err
	}

	inst.Status = InstanceStatus(status)
	if inst.ScheduledFor, err = db.ParseTime(scheduledFor); err != nil {
		return nil, err
	}
	if inst.ActualSentAt, err = db.ParseNullTime(sentAt); err != nil {
		return nil, err
	}
	return &inst, nil
}

func expectOne(res sql.Result, notFound error, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.Wrapf(notFound, "%s", what)
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

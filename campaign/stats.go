package campaign

import (
	"context"

	"github.com/teranos/cadence/errors"
)

// Stats aggregates one campaign's delivery history
type Stats struct {
	CampaignID        string                 `json:"campaign_id"`
	Name              string                 `json:"name"`
	IsActive          bool                   `json:"is_active"`
	Instances         map[InstanceStatus]int `json:"instances"`
	Successes         int                    `json:"successes"`
	Failures          int                    `json:"failures"`
	ActiveRecipients  int                    `json:"active_recipients"`
	StoppedRecipients map[StopCondition]int  `json:"stopped_recipients"`
}

// CampaignStats aggregates every campaign, or only campaignID when set
func (s *Store) CampaignStats(ctx context.Context, campaignID string) ([]*Stats, error) {
	query := `SELECT id, name, is_active FROM campaigns`
	var args []any
	if campaignID != "" {
		query += ` WHERE id = ?`
		args = append(args, campaignID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list campaigns for stats")
	}
	var out []*Stats
	byID := map[string]*Stats{}
	for rows.Next() {
		st := &Stats{Instances: map[InstanceStatus]int{}, StoppedRecipients: map[StopCondition]int{}}
		if err := rows.Scan(&st.CampaignID, &st.Name, &st.IsActive); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan campaign")
		}
		out = append(out, st)
		byID[st.CampaignID] = st
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating campaigns")
	}
	if campaignID != "" && len(out) == 0 {
		return nil, errors.Wrapf(ErrCampaignNotFound, "%s", campaignID)
	}

	err = s.each(ctx, `
		SELECT campaign_id, status, COUNT(*), COALESCE(SUM(success_count), 0), COALESCE(SUM(failure_count), 0)
		FROM campaign_instances GROUP BY campaign_id, status`,
		func(scan func(...any) error) error {
			var (
				id, status    string
				n, succ, fail int
			)
			if err := scan(&id, &status, &n, &succ, &fail); err != nil {
				return err
			}
			if st := byID[id]; st != nil {
				st.Instances[InstanceStatus(status)] = n
				st.Successes += succ
				st.Failures += fail
			}
			return nil
		})
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate instances")
	}

	err = s.each(ctx, `
		SELECT campaign_id, is_active, COALESCE(stop_reason, ''), COUNT(*)
		FROM campaign_recipients GROUP BY campaign_id, is_active, stop_reason`,
		func(scan func(...any) error) error {
			var (
				id, reason string
				active     bool
				n          int
			)
			if err := scan(&id, &active, &reason, &n); err != nil {
				return err
			}
			st := byID[id]
			switch {
			case st == nil:
			case active:
				st.ActiveRecipients += n
			default:
				st.StoppedRecipients[StopCondition(reason)] += n
			}
			return nil
		})
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate recipients")
	}
	return out, nil
}

func (s *Store) each(ctx context.Context, query string, fn func(scan func(...any) error) error) error {
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows.Scan); err != nil {
			return err
		}
	}
	return rows.Err()
}

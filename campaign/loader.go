package campaign

import (
	"context"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teranos/cadence/errors"
)

// Definitions is the YAML document accepted by `cadence campaign apply`
type Definitions struct {
	Campaigns []Definition `yaml:"campaigns"`
}

// Definition describes one campaign with its recipients
type Definition struct {
	ID             string                `yaml:"id"`
	Name           string                `yaml:"name"`
	Channel        Channel               `yaml:"channel"`
	ProgramName    string                `yaml:"program_name"`
	Subject        string                `yaml:"subject"`
	Body           string                `yaml:"body"`
	Interval       IntervalKind          `yaml:"interval"`
	IntervalValue  int                   `yaml:"interval_value"`
	StartDate      time.Time             `yaml:"start_date"`
	EndDate        *time.Time            `yaml:"end_date"`
	MaxMessages    *int                  `yaml:"max_messages"`
	StopConditions []StopCondition       `yaml:"stop_conditions"`
	Paused         bool                  `yaml:"paused"`
	Recipients     []RecipientDefinition `yaml:"recipients"`
}

// RecipientDefinition is one recipient entry
type RecipientDefinition struct {
	PersonID string `yaml:"person_id"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Phone    string `yaml:"phone"`
}

// LoadDefinitions decodes and validates a definitions document. Unknown
// fields are rejected so a misspelt key does not silently drop a setting.
func LoadDefinitions(r io.Reader) ([]Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Definitions
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, errors.NewInvalidRequestError("empty campaign definitions")
		}
		return nil, errors.Wrap(err, "failed to parse campaign definitions")
	}

	for i := range doc.Campaigns {
		if err := doc.Campaigns[i].validate(); err != nil {
			return nil, errors.Wrapf(err, "campaign %d (%s)", i+1, doc.Campaigns[i].Name)
		}
	}
	return doc.Campaigns, nil
}

func (d *Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.NewInvalidRequestError("name is required")
	}
	if strings.TrimSpace(d.Body) == "" {
		return errors.NewInvalidRequestError("body is required")
	}
	switch d.Channel {
	case "":
		d.Channel = ChannelEmail
	case ChannelEmail, ChannelSMS:
	default:
		return errors.NewInvalidRequestError("unknown channel %q", d.Channel)
	}
	switch d.Interval {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalCustom:
	default:
		return errors.NewInvalidRequestError("unknown interval %q", d.Interval)
	}
	if d.StartDate.IsZero() {
		return errors.NewInvalidRequestError("start_date is required")
	}
	if d.EndDate != nil && d.EndDate.Before(d.StartDate) {
		return errors.NewInvalidRequestError("end_date is before start_date")
	}
	if d.MaxMessages != nil && *d.MaxMessages <= 0 {
		return errors.NewInvalidRequestError("max_messages must be positive")
	}
	for _, c := range d.StopConditions {
		if !c.valid() {
			return errors.NewInvalidRequestError("unknown stop condition %q", c)
		}
	}
	if StopConditions(d.StopConditions).Has(StopMaxMessages) && d.MaxMessages == nil {
		return errors.NewInvalidRequestError("stop condition max_messages needs max_messages")
	}

	seen := map[string]bool{}
	for _, r := range d.Recipients {
		if r.PersonID == "" {
			return errors.NewInvalidRequestError("recipient without person_id")
		}
		if seen[r.PersonID] {
			return errors.NewInvalidRequestError("duplicate recipient %s", r.PersonID)
		}
		seen[r.PersonID] = true
	}
	return nil
}

// Apply creates the campaign, its recipients and its first instance at
// start_date in one transaction.
func (s *Store) Apply(ctx context.Context, def Definition, now time.Time) (*Campaign, *Instance, error) {
	c := &Campaign{
		ID:              def.ID,
		Name:            def.Name,
		Channel:         def.Channel,
		ProgramName:     def.ProgramName,
		SubjectTemplate: def.Subject,
		BodyTemplate:    def.Body,
		Interval:        def.Interval,
		IntervalValue:   def.IntervalValue,
		StartDate:       def.StartDate.UTC(),
		EndDate:         def.EndDate,
		MaxMessages:     def.MaxMessages,
		StopConditions:  StopConditions(def.StopConditions),
		IsActive:        !def.Paused,
		CreatedAt:       now,
	}
	if def.Paused {
		c.PausedAt = &now
	}

	var first *Instance
	err := s.WithTx(ctx, func(tx *Store) error {
		if err := tx.CreateCampaign(ctx, c); err != nil {
			return err
		}
		for _, rd := range def.Recipients {
			r := &Recipient{
				CampaignID: c.ID,
				PersonID:   rd.PersonID,
				Name:       rd.Name,
				Email:      rd.Email,
				Phone:      rd.Phone,
				IsActive:   true,
			}
			if err := tx.AddRecipient(ctx, r); err != nil {
				return err
			}
		}
		var err error
		first, err = tx.CreateInstance(ctx, c.ID, c.StartDate)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return c, first, nil
}

package am

import (
	"github.com/robfig/cron/v3"

	"github.com/teranos/cadence/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Pulse.Workers < 1 {
		return errors.Newf("pulse.workers must be >= 1, got %d", c.Pulse.Workers)
	}
	if c.Pulse.BatchSize < 1 {
		return errors.Newf("pulse.batch_size must be >= 1, got %d", c.Pulse.BatchSize)
	}

	// 0 = no periodic ticking, negative = invalid
	if c.Pulse.TickerIntervalSeconds < 0 {
		return errors.Newf("pulse.ticker_interval_seconds must be >= 0, got %d", c.Pulse.TickerIntervalSeconds)
	}
	if c.Pulse.Cron != "" {
		if _, err := cron.ParseStandard(c.Pulse.Cron); err != nil {
			return errors.Wrapf(err, "pulse.cron %q is not a valid 5-field expression", c.Pulse.Cron)
		}
	}
	if c.Pulse.MaxRetries < 0 {
		return errors.Newf("pulse.max_retries must be >= 0, got %d", c.Pulse.MaxRetries)
	}
	if c.Pulse.LeaseTimeoutSeconds < 0 {
		return errors.Newf("pulse.lease_timeout_seconds must be >= 0, got %d", c.Pulse.LeaseTimeoutSeconds)
	}

	if c.Campaign.InstanceBatch < 1 {
		return errors.Newf("campaign.instance_batch must be >= 1, got %d", c.Campaign.InstanceBatch)
	}
	if c.Campaign.DeliveriesPerSecond < 0 {
		return errors.Newf("campaign.deliveries_per_second must be >= 0, got %f", c.Campaign.DeliveriesPerSecond)
	}

	switch c.Delivery.Mode {
	case DeliveryModeLog:
	case DeliveryModeHTTP:
		if c.Delivery.Endpoint == "" {
			return errors.New("delivery.endpoint cannot be empty when delivery.mode is http")
		}
	default:
		return errors.Newf("delivery.mode must be %q or %q, got %q", DeliveryModeLog, DeliveryModeHTTP, c.Delivery.Mode)
	}
	if c.Delivery.TimeoutSeconds <= 0 {
		return errors.Newf("delivery.timeout_seconds must be > 0, got %d", c.Delivery.TimeoutSeconds)
	}

	if c.Insight.Endpoint != "" && c.Insight.TimeoutSeconds <= 0 {
		return errors.Newf("insight.timeout_seconds must be > 0, got %d", c.Insight.TimeoutSeconds)
	}
	if c.Insight.MaxCallsPerMinute < 0 || c.Insight.DailyLimit < 0 {
		return errors.New("insight.max_calls_per_minute and insight.daily_limit must be >= 0")
	}

	if c.Retention.CompletedJobDays < 1 {
		return errors.Newf("retention.completed_job_days must be >= 1, got %d", c.Retention.CompletedJobDays)
	}

	return nil
}

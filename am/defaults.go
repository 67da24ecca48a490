package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default values. DefaultConfig and SetDefaults both read from these.
const (
	DefaultDatabasePath          = "cadence.db"
	DefaultWorkers               = 4
	DefaultBatchSize             = 5
	DefaultTickerIntervalSeconds = 5
	DefaultMaxRetries            = 3
	DefaultInstanceBatch         = 10
	DefaultDeliveryTimeout       = 10
	DefaultInsightTimeout        = 30
	DefaultCompletedJobDays      = 90
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("pulse.workers", DefaultWorkers)
	v.SetDefault("pulse.batch_size", DefaultBatchSize)
	v.SetDefault("pulse.ticker_interval_seconds", DefaultTickerIntervalSeconds)
	v.SetDefault("pulse.cron", "")
	v.SetDefault("pulse.max_retries", DefaultMaxRetries)
	v.SetDefault("pulse.lease_timeout_seconds", 0)
	v.SetDefault("pulse.fail_fast_unknown_types", false)
	v.SetDefault("pulse.metrics_addr", "")

	v.SetDefault("campaign.instance_batch", DefaultInstanceBatch)
	v.SetDefault("campaign.deliveries_per_second", 0.0)

	v.SetDefault("delivery.mode", DeliveryModeLog)
	v.SetDefault("delivery.endpoint", "")
	v.SetDefault("delivery.timeout_seconds", DefaultDeliveryTimeout)

	v.SetDefault("insight.endpoint", "")
	v.SetDefault("insight.timeout_seconds", DefaultInsightTimeout)
	v.SetDefault("insight.max_calls_per_minute", 0)
	v.SetDefault("insight.daily_limit", 0)

	v.SetDefault("retention.completed_job_days", DefaultCompletedJobDays)

	v.SetDefault("http.allow_private_targets", false)
	v.SetDefault("http.user_agent", "cadence")
}

// BindSensitiveEnvVars explicitly binds secrets to environment variables so
// they never need to live in am.toml
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "CADENCE_DATABASE_PATH")
	v.BindEnv("delivery.api_key", "CADENCE_DELIVERY_API_KEY")
	v.BindEnv("insight.api_key", "CADENCE_INSIGHT_API_KEY")
}

// DefaultConfig returns the configuration SetDefaults produces, as a struct.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Pulse: PulseConfig{
			Workers:               DefaultWorkers,
			BatchSize:             DefaultBatchSize,
			TickerIntervalSeconds: DefaultTickerIntervalSeconds,
			MaxRetries:            DefaultMaxRetries,
		},
		Campaign:  CampaignConfig{InstanceBatch: DefaultInstanceBatch},
		Delivery:  DeliveryConfig{Mode: DeliveryModeLog, TimeoutSeconds: DefaultDeliveryTimeout},
		Insight:   InsightConfig{TimeoutSeconds: DefaultInsightTimeout},
		Retention: RetentionConfig{CompletedJobDays: DefaultCompletedJobDays},
		HTTP:      HTTPConfig{UserAgent: "cadence"},
	}
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// TickerInterval returns the ticker period, zero when the ticker is disabled.
func (p PulseConfig) TickerInterval() time.Duration {
	return time.Duration(p.TickerIntervalSeconds) * time.Second
}

// LeaseTimeout returns the reaper lease, zero when the reaper is disabled.
func (p PulseConfig) LeaseTimeout() time.Duration {
	return time.Duration(p.LeaseTimeoutSeconds) * time.Second
}

// Timeout returns the delivery request timeout.
func (d DeliveryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Timeout returns the insight request timeout.
func (i InsightConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// String returns a string representation of the config. Secrets are omitted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Pulse: {Workers: %d, BatchSize: %d}, Delivery: {Mode: %s}}",
		c.Database.Path, c.Pulse.Workers, c.Pulse.BatchSize, c.Delivery.Mode)
}

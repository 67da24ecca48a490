package am

// Config represents the cadence configuration.
// mapstructure tags are read by viper; toml tags by am init and am validate.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Pulse     PulseConfig     `mapstructure:"pulse" toml:"pulse"`
	Campaign  CampaignConfig  `mapstructure:"campaign" toml:"campaign"`
	Delivery  DeliveryConfig  `mapstructure:"delivery" toml:"delivery"`
	Insight   InsightConfig   `mapstructure:"insight" toml:"insight"`
	Retention RetentionConfig `mapstructure:"retention" toml:"retention"`
	HTTP      HTTPConfig      `mapstructure:"http" toml:"http"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// PulseConfig configures the job runner and scheduler loop
type PulseConfig struct {
	Workers               int    `mapstructure:"workers" toml:"workers"`                                 // Concurrent job executions per run (default: 4)
	BatchSize             int    `mapstructure:"batch_size" toml:"batch_size"`                           // Jobs claimed per run (default: 5)
	TickerIntervalSeconds int    `mapstructure:"ticker_interval_seconds" toml:"ticker_interval_seconds"` // 0 = no ticker (use cron or run-once)
	Cron                  string `mapstructure:"cron" toml:"cron"`                                       // Standard 5-field expression, empty = disabled
	MaxRetries            int    `mapstructure:"max_retries" toml:"max_retries"`                         // Default max_retries for enqueued jobs

	// Stale-claim reaper. 0 disables it: a job stuck in running stays there.
	LeaseTimeoutSeconds int `mapstructure:"lease_timeout_seconds" toml:"lease_timeout_seconds"`

	FailFastUnknownTypes bool   `mapstructure:"fail_fast_unknown_types" toml:"fail_fast_unknown_types"`
	MetricsAddr          string `mapstructure:"metrics_addr" toml:"metrics_addr"` // e.g. ":9108", empty = no /metrics
}

// CampaignConfig configures the recurring-message dispatcher
type CampaignConfig struct {
	InstanceBatch       int     `mapstructure:"instance_batch" toml:"instance_batch"`               // Due instances per dispatch (default: 10)
	DeliveriesPerSecond float64 `mapstructure:"deliveries_per_second" toml:"deliveries_per_second"` // 0 = unthrottled
}

// DeliveryConfig configures the outbound message channel
type DeliveryConfig struct {
	Mode           string `mapstructure:"mode" toml:"mode"` // log | http
	Endpoint       string `mapstructure:"endpoint" toml:"endpoint"`
	APIKey         string `mapstructure:"api_key" toml:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
}

// InsightConfig configures the external insight generator
type InsightConfig struct {
	Endpoint       string `mapstructure:"endpoint" toml:"endpoint"`
	APIKey         string `mapstructure:"api_key" toml:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`

	MaxCallsPerMinute int `mapstructure:"max_calls_per_minute" toml:"max_calls_per_minute"` // 0 = unlimited
	DailyLimit        int `mapstructure:"daily_limit" toml:"daily_limit"`                   // completed generations per 24h, 0 = unlimited
}

// RetentionConfig configures the retention_cleanup job
type RetentionConfig struct {
	CompletedJobDays int `mapstructure:"completed_job_days" toml:"completed_job_days"`
}

// HTTPConfig configures every outbound HTTP client
type HTTPConfig struct {
	AllowPrivateTargets bool   `mapstructure:"allow_private_targets" toml:"allow_private_targets"` // permit loopback/private relays
	UserAgent           string `mapstructure:"user_agent" toml:"user_agent"`
}

// Delivery modes
const (
	DeliveryModeLog  = "log"
	DeliveryModeHTTP = "http"
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

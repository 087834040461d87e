// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/repo-capture-engine/internal/store/postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DB        postgres.Config `mapstructure:"db"`
	Source    SourceConfig    `mapstructure:"source"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Intake    IntakeConfig    `mapstructure:"intake"`
	Rollout   RolloutConfig   `mapstructure:"rollout"`
	Rebalance RebalanceConfig `mapstructure:"rebalance"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig points at the external version-control API.
type SourceConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

// BudgetConfig governs the hourly API-call budget.
type BudgetConfig struct {
	Credential    string `mapstructure:"credential"`
	HourlyLimit   int64  `mapstructure:"hourly_limit"`
	BufferPercent int    `mapstructure:"buffer_percent"`
}

// QueueConfig sizes the in-process wake-up queues.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// WorkersConfig sizes the claimer pools per processor.
type WorkersConfig struct {
	RealtimeClaimers int           `mapstructure:"realtime_claimers"`
	BulkClaimers     int           `mapstructure:"bulk_claimers"`
	RequeueDelay     time.Duration `mapstructure:"requeue_delay"`
	RealtimeTimeout  time.Duration `mapstructure:"realtime_timeout"`
	BulkTimeout      time.Duration `mapstructure:"bulk_timeout"`
}

// LifecycleConfig governs retry backoff and the attempt budget.
type LifecycleConfig struct {
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// RoutingConfig holds the processor routing thresholds.
type RoutingConfig struct {
	SmallBatchMax int           `mapstructure:"small_batch_max"`
	BulkBatchMin  int           `mapstructure:"bulk_batch_min"`
	FreshDataAge  time.Duration `mapstructure:"fresh_data_age"`
}

// FreshnessConfig controls webhook-based request suppression.
type FreshnessConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// IntakeConfig sets the reclassification cadences.
type IntakeConfig struct {
	ClassifyStandard     time.Duration `mapstructure:"classify_standard"`
	ClassifyHighPriority time.Duration `mapstructure:"classify_high_priority"`
}

// RolloutConfig tunes the bulk rollout controller and its monitor.
type RolloutConfig struct {
	Feature               string  `mapstructure:"feature"`
	MaxErrorRatePercent   float64 `mapstructure:"max_error_rate_percent"`
	MonitoringWindowHours int     `mapstructure:"monitoring_window_hours"`
	MinSample             int     `mapstructure:"min_sample"`
}

// RebalanceConfig tunes queue skew detection and migration.
type RebalanceConfig struct {
	SkewRatio      float64 `mapstructure:"skew_ratio"`
	MigrationBatch int     `mapstructure:"migration_batch"`
	MinPending     int     `mapstructure:"min_pending"`
}

// SchedulerConfig sets background task cadences. A zero interval disables
// the task.
type SchedulerConfig struct {
	RetryReleaseInterval  time.Duration `mapstructure:"retry_release_interval"`
	RetryReleaseLimit     int           `mapstructure:"retry_release_limit"`
	RebalanceInterval     time.Duration `mapstructure:"rebalance_interval"`
	RolloutCheckInterval  time.Duration `mapstructure:"rollout_check_interval"`
	ClassifySweepInterval time.Duration `mapstructure:"classify_sweep_interval"`
	ClassifySweepLimit    int           `mapstructure:"classify_sweep_limit"`
}

// StorageConfig selects the audit archive backend.
type StorageConfig struct {
	// Backend is one of "gcs", "local" or "none".
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("budget.credential", "default")
	v.SetDefault("budget.hourly_limit", 5000)
	v.SetDefault("budget.buffer_percent", 20)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("workers.realtime_claimers", 4)
	v.SetDefault("workers.bulk_claimers", 2)
	v.SetDefault("workers.requeue_delay", "5s")
	v.SetDefault("workers.realtime_timeout", "5m")
	v.SetDefault("workers.bulk_timeout", "45m")
	v.SetDefault("lifecycle.base_backoff", "1m")
	v.SetDefault("lifecycle.max_backoff", "30m")
	v.SetDefault("lifecycle.max_attempts", 3)
	v.SetDefault("routing.small_batch_max", 10)
	v.SetDefault("routing.bulk_batch_min", 50)
	v.SetDefault("routing.fresh_data_age", "24h")
	v.SetDefault("freshness.window", "24h")
	v.SetDefault("intake.classify_standard", "168h")
	v.SetDefault("intake.classify_high_priority", "24h")
	v.SetDefault("rollout.feature", "bulk_processing_v2")
	v.SetDefault("rollout.max_error_rate_percent", 5.0)
	v.SetDefault("rollout.monitoring_window_hours", 1)
	v.SetDefault("rollout.min_sample", 20)
	v.SetDefault("rebalance.skew_ratio", 3.0)
	v.SetDefault("rebalance.migration_batch", 25)
	v.SetDefault("rebalance.min_pending", 20)
	v.SetDefault("scheduler.retry_release_interval", "30s")
	v.SetDefault("scheduler.retry_release_limit", 100)
	v.SetDefault("scheduler.rebalance_interval", "1m")
	v.SetDefault("scheduler.rollout_check_interval", "1m")
	v.SetDefault("scheduler.classify_sweep_interval", "1h")
	v.SetDefault("scheduler.classify_sweep_limit", 50)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "audit")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Budget.HourlyLimit <= 0 {
		return fmt.Errorf("budget.hourly_limit must be > 0")
	}
	if c.Budget.BufferPercent < 0 || c.Budget.BufferPercent >= 100 {
		return fmt.Errorf("budget.buffer_percent must be in [0, 100)")
	}
	if c.Workers.RealtimeClaimers <= 0 || c.Workers.BulkClaimers <= 0 {
		return fmt.Errorf("workers claimers must be > 0")
	}
	if c.Lifecycle.MaxAttempts <= 0 {
		return fmt.Errorf("lifecycle.max_attempts must be > 0")
	}
	if c.Rollout.MaxErrorRatePercent <= 0 || c.Rollout.MaxErrorRatePercent > 100 {
		return fmt.Errorf("rollout.max_error_rate_percent must be in (0, 100]")
	}
	if c.Rebalance.SkewRatio <= 1 {
		return fmt.Errorf("rebalance.skew_ratio must be > 1")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "none", "":
	default:
		return fmt.Errorf("storage.backend must be one of gcs, local, none")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	return nil
}

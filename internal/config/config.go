// Package config handles application configuration loading and validation using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/reputation"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Reputation ReputationConfig `mapstructure:"reputation"`
	Milestones MilestonesConfig `mapstructure:"milestones"`
	Award      AwardConfig      `mapstructure:"award"`
	Presence   PresenceConfig   `mapstructure:"presence"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Reminders  RemindersConfig  `mapstructure:"reminders"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Snowflake  SnowflakeConfig  `mapstructure:"snowflake"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LeaderboardTTL  time.Duration `mapstructure:"leaderboard_ttl"`
}

// DatabaseConfig contains database connection settings for PostgreSQL and Redis.
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"` // postgres or sqlite
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL database connection and pool settings.
type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// SQLiteConfig is used for local development.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig contains Redis connection and pool settings. An empty host disables Redis.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ReputationConfig contains scoring settings.
type ReputationConfig struct {
	Timezone string                  `mapstructure:"timezone"`
	MaxDelta int64                   `mapstructure:"max_delta"`
	Actions  []reputation.ActionSpec `mapstructure:"actions"`
}

// GetLocation returns the location used to compute calendar days.
func (c *ReputationConfig) GetLocation() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// MilestonesConfig selects the milestone rule set.
type MilestonesConfig struct {
	RulesFile      string                 `mapstructure:"rules_file"`
	Rules          []models.MilestoneRule `mapstructure:"rules"`
	MetricWorkers  int                    `mapstructure:"metric_workers"`
	DisableDefault bool                   `mapstructure:"disable_default"`
}

// AwardConfig controls per-user serialization of awards.
type AwardConfig struct {
	DistributedLock bool          `mapstructure:"distributed_lock"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	LockWait        time.Duration `mapstructure:"lock_wait"`
}

// PresenceConfig contains live channel settings.
type PresenceConfig struct {
	Shards      int           `mapstructure:"shards"`
	Buffer      int           `mapstructure:"buffer"`
	PushTimeout time.Duration `mapstructure:"push_timeout"`
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
}

// SchedulerConfig contains background job settings.
type SchedulerConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	StreakReminderTime string `mapstructure:"streak_reminder_time"` // HH:MM
	MilestoneSweep     string `mapstructure:"milestone_sweep"`      // cron expression, empty disables
	Timezone           string `mapstructure:"timezone"`
}

// GetLocation returns the timezone location.
func (c *SchedulerConfig) GetLocation() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// RemindersConfig selects the out-of-band reminder backend.
type RemindersConfig struct {
	Backend  string         `mapstructure:"backend"` // none, sendgrid or webhook
	SendGrid SendGridConfig `mapstructure:"sendgrid"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

// SendGridConfig contains SendGrid email settings.
type SendGridConfig struct {
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

// WebhookConfig contains chat webhook settings.
type WebhookConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig contains Prometheus metrics exporter settings.
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// SnowflakeConfig configures activity ID generation.
type SnowflakeConfig struct {
	NodeID int64 `mapstructure:"node_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.leaderboard_ttl", "30s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 25)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", 300)
	v.SetDefault("database.sqlite.path", "reputation.db")
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.redis.pool_size", 10)

	v.SetDefault("reputation.timezone", "UTC")
	v.SetDefault("reputation.max_delta", reputation.DefaultMaxDelta)

	v.SetDefault("milestones.metric_workers", 4)

	v.SetDefault("award.lock_ttl", "5s")
	v.SetDefault("award.lock_wait", "3s")

	v.SetDefault("presence.shards", 32)
	v.SetDefault("presence.buffer", 16)
	v.SetDefault("presence.push_timeout", "250ms")
	v.SetDefault("presence.heartbeat", "30s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.streak_reminder_time", "18:00")
	v.SetDefault("scheduler.milestone_sweep", "30 3 * * *")
	v.SetDefault("scheduler.timezone", "UTC")

	v.SetDefault("reminders.backend", "none")
	v.SetDefault("reminders.sendgrid.from_name", "DevHub")

	v.SetDefault("metrics.prometheus.enabled", true)
	v.SetDefault("metrics.prometheus.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("snowflake.node_id", 1)
}

// Load reads configuration from file and environment variables.
// Without an explicit path a missing config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/reputation-engine/")
	}

	// Explicit bindings for 12-factor deployments
	// Server configuration
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.environment", "SERVER_ENVIRONMENT")

	// Database configuration
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.sqlite.path", "SQLITE_PATH")
	_ = v.BindEnv("database.postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("database.postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("database.postgres.database", "POSTGRES_DB")
	_ = v.BindEnv("database.postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("database.postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("database.postgres.ssl_mode", "POSTGRES_SSL_MODE")
	_ = v.BindEnv("database.postgres.max_open_conns", "POSTGRES_MAX_OPEN_CONNS")
	_ = v.BindEnv("database.postgres.max_idle_conns", "POSTGRES_MAX_IDLE_CONNS")
	_ = v.BindEnv("database.postgres.conn_max_lifetime", "POSTGRES_CONN_MAX_LIFETIME")

	// Redis configuration
	_ = v.BindEnv("database.redis.host", "REDIS_HOST")
	_ = v.BindEnv("database.redis.port", "REDIS_PORT")
	_ = v.BindEnv("database.redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.redis.db", "REDIS_DB")
	_ = v.BindEnv("database.redis.pool_size", "REDIS_POOL_SIZE")

	// Engine configuration
	_ = v.BindEnv("reputation.timezone", "REPUTATION_TIMEZONE")
	_ = v.BindEnv("reputation.max_delta", "REPUTATION_MAX_DELTA")
	_ = v.BindEnv("milestones.rules_file", "MILESTONES_RULES_FILE")
	_ = v.BindEnv("award.distributed_lock", "AWARD_DISTRIBUTED_LOCK")
	_ = v.BindEnv("snowflake.node_id", "SNOWFLAKE_NODE_ID")

	// Reminder configuration
	_ = v.BindEnv("reminders.backend", "REMINDERS_BACKEND")
	_ = v.BindEnv("reminders.sendgrid.api_key", "SENDGRID_API_KEY")
	_ = v.BindEnv("reminders.sendgrid.from_email", "SENDGRID_FROM_EMAIL")
	_ = v.BindEnv("reminders.webhook.url", "REMINDERS_WEBHOOK_URL")
	_ = v.BindEnv("reminders.webhook.channel", "REMINDERS_WEBHOOK_CHANNEL")

	// Logging configuration
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("logging.output", "LOG_OUTPUT")

	// Scheduler configuration
	_ = v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	_ = v.BindEnv("scheduler.streak_reminder_time", "SCHEDULER_STREAK_REMINDER_TIME")
	_ = v.BindEnv("scheduler.milestone_sweep", "SCHEDULER_MILESTONE_SWEEP")
	_ = v.BindEnv("scheduler.timezone", "SCHEDULER_TIMEZONE")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if c.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}

	if c.Award.DistributedLock && !c.Database.Redis.Enabled() {
		return fmt.Errorf("award.distributed_lock requires database.redis.host")
	}
	if c.Award.LockTTL <= 0 {
		return fmt.Errorf("award.lock_ttl must be positive")
	}

	if _, err := c.Reputation.GetLocation(); err != nil {
		return fmt.Errorf("reputation.timezone: %w", err)
	}
	if c.Reputation.MaxDelta <= 0 {
		return fmt.Errorf("reputation.max_delta must be positive")
	}
	if _, err := reputation.NewActions(c.Reputation.Actions, c.Reputation.MaxDelta); err != nil {
		return fmt.Errorf("reputation.actions: %w", err)
	}

	if c.Presence.Shards <= 0 {
		return fmt.Errorf("presence.shards must be positive")
	}
	if c.Presence.Buffer < 0 {
		return fmt.Errorf("presence.buffer must not be negative")
	}
	if c.Presence.PushTimeout <= 0 {
		return fmt.Errorf("presence.push_timeout must be positive")
	}

	if c.Scheduler.Enabled {
		if _, err := c.Scheduler.GetLocation(); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	switch strings.ToLower(c.Reminders.Backend) {
	case "", "none":
	case "sendgrid":
		if c.Reminders.SendGrid.APIKey == "" || c.Reminders.SendGrid.FromEmail == "" {
			return fmt.Errorf("reminders.sendgrid.api_key and from_email are required")
		}
	case "webhook":
		if c.Reminders.Webhook.URL == "" {
			return fmt.Errorf("reminders.webhook.url is required")
		}
	default:
		return fmt.Errorf("reminders.backend must be none, sendgrid or webhook, got %q", c.Reminders.Backend)
	}

	if c.Snowflake.NodeID < 0 || c.Snowflake.NodeID > 1023 {
		return fmt.Errorf("snowflake.node_id must be between 0 and 1023")
	}

	return nil
}

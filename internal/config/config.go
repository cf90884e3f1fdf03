package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Store    StoreConfig    `mapstructure:"store" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Engine   EngineConfig   `mapstructure:"engine" validate:"required"`
	Sweep    SweepConfig    `mapstructure:"sweep" validate:"required"`
	Health   HealthConfig   `mapstructure:"health" validate:"required"`
	Remote   RemoteConfig   `mapstructure:"remote" validate:"required"`
	Gemini   GeminiConfig   `mapstructure:"gemini" validate:"required"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// ServerConfig contains the operational HTTP surface and process identity.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// NodeID identifies this worker process in claims. Empty means hostname-pid.
	NodeID string `mapstructure:"node_id"`
}

// StoreConfig selects the durable job store.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres mongo"`
}

// DatabaseConfig contains Postgres connection settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required_if=Driver postgres"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// Driver mirrors Store.Driver so the required_if rule can see it.
	Driver string `mapstructure:"-"`
}

// MongoConfig contains MongoDB connection settings.
type MongoConfig struct {
	URI      string `mapstructure:"uri" validate:"required_if=Driver mongo"`
	Database string `mapstructure:"database" validate:"required_if=Driver mongo"`
	Driver   string `mapstructure:"-"`
}

// RedisConfig is optional. When URL is empty, notification dedupe stays in memory.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// EngineConfig tunes the claim-and-execute loop and the retry policy.
type EngineConfig struct {
	MaxConcurrency    int           `mapstructure:"max_concurrency" validate:"required,gt=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"required,gt=0"`
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"required,gt=0"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" validate:"required,gt=0"`
	PriorityBoost     int           `mapstructure:"priority_boost" validate:"gte=0"`
	PriorityCap       int           `mapstructure:"priority_cap" validate:"required,gt=0"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout" validate:"required,gt=0"`
}

// SweepConfig tunes the recovery sweep.
type SweepConfig struct {
	Interval     time.Duration `mapstructure:"interval" validate:"required,gt=0"`
	InitialDelay time.Duration `mapstructure:"initial_delay" validate:"gte=0"`
	StaleAfter   time.Duration `mapstructure:"stale_after" validate:"required,gt=0"`
	TimeoutAfter time.Duration `mapstructure:"timeout_after" validate:"required,gtfield=StaleAfter"`
	BatchSize    int           `mapstructure:"batch_size" validate:"required,gt=0"`
}

// HealthConfig tunes the remote processor circuit breaker.
type HealthConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"required,gt=0"`
	Cooldown         time.Duration `mapstructure:"cooldown" validate:"required,gt=0"`
}

// RemoteConfig points at the external analysis service.
type RemoteConfig struct {
	Endpoint            string        `mapstructure:"endpoint" validate:"required,url"`
	LargeThresholdBytes int64         `mapstructure:"large_threshold_bytes" validate:"required,gt=0"`
	SmallTimeout        time.Duration `mapstructure:"small_timeout" validate:"required,gt=0"`
	LargeTimeout        time.Duration `mapstructure:"large_timeout" validate:"required,gtefield=SmallTimeout"`
}

// GeminiConfig contains settings for the in-process vision adapters.
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key" validate:"required"`
	PrimaryModel   string `mapstructure:"primary_model" validate:"required"`
	SecondaryModel string `mapstructure:"secondary_model" validate:"required"`

	// MaxRetries bounds in-call retries of transient API errors.
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=5"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
}

// NotifyConfig configures the completion webhook. An empty URL disables delivery.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
	DedupeTTL  time.Duration `mapstructure:"dedupe_ttl" validate:"gte=0"`
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. AQ_SERVER_PORT.
const EnvPrefix = "AQ"

// setDefaults registers every known key so environment overrides are honored
// by Unmarshal even when no config file is present.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.node_id", "")

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "analysis")
	v.SetDefault("redis.url", "")

	v.SetDefault("engine.max_concurrency", 25)
	v.SetDefault("engine.poll_interval", 5*time.Second)
	v.SetDefault("engine.heartbeat_interval", 30*time.Second)
	v.SetDefault("engine.max_attempts", 5)
	v.SetDefault("engine.backoff_base", 5*time.Second)
	v.SetDefault("engine.priority_boost", 10)
	v.SetDefault("engine.priority_cap", 100)
	v.SetDefault("engine.attempt_timeout", 15*time.Minute)

	v.SetDefault("sweep.interval", 60*time.Second)
	v.SetDefault("sweep.initial_delay", 10*time.Second)
	v.SetDefault("sweep.stale_after", 5*time.Minute)
	v.SetDefault("sweep.timeout_after", 15*time.Minute)
	v.SetDefault("sweep.batch_size", 100)

	v.SetDefault("health.failure_threshold", 3)
	v.SetDefault("health.cooldown", 60*time.Second)

	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.large_threshold_bytes", 10<<20)
	v.SetDefault("remote.small_timeout", 3*time.Minute)
	v.SetDefault("remote.large_timeout", 5*time.Minute)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.primary_model", "gemini-2.0-flash")
	v.SetDefault("gemini.secondary_model", "gemini-2.0-flash-lite")
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay", 2*time.Second)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.dedupe_ttl", 24*time.Hour)
}

// Load configuration from environment variables and optionally a config.yaml
// in the working directory. Environment variables take precedence over values
// from the config file. Returns a populated Config or an error if loading or
// validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Database.Driver = cfg.Store.Driver
	cfg.Mongo.Driver = cfg.Store.Driver

	validate := validator.New()
	validate.RegisterStructValidation(validateTimeouts, Config{})
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validateTimeouts keeps each remote request inside the attempt ceiling, so
// a slow remote surfaces as a remote timeout rather than an attempt timeout.
func validateTimeouts(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if cfg.Remote.LargeTimeout >= cfg.Engine.AttemptTimeout {
		sl.ReportError(cfg.Remote.LargeTimeout, "Remote.LargeTimeout", "LargeTimeout", "ltattempt", "")
	}
}

package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"3001" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// Postgres pool
	DBMaxConns          int `env:"DB_MAX_CONNS" envDefault:"25" validate:"min=1,max=500"`
	DBMinConns          int `env:"DB_MIN_CONNS" envDefault:"5" validate:"min=0,ltefield=DBMaxConns"`
	DBConnLifetimeMin   int `env:"DB_CONN_LIFETIME_MIN" envDefault:"60" validate:"min=1"`
	DBConnIdleMin       int `env:"DB_CONN_IDLE_MIN" envDefault:"30" validate:"min=1"`
	DBConnectTimeoutSec int `env:"DB_CONNECT_TIMEOUT_SEC" envDefault:"5" validate:"min=1,max=60"`

	// Worker pool
	MaxConcurrentJobs int `env:"MAX_CONCURRENT_JOBS" envDefault:"10" validate:"min=1,max=100"`
	PollIntervalSec   int `env:"POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`

	// Retry policy
	JobRetryAttempts int `env:"JOB_RETRY_ATTEMPTS" envDefault:"3" validate:"min=1,max=20"`
	JobRetryDelaySec int `env:"JOB_RETRY_DELAY_SEC" envDefault:"60" validate:"min=1,max=3600"`

	// Shutdown
	ShutdownGraceSec int `env:"SHUTDOWN_GRACE_SEC" envDefault:"30" validate:"min=1,max=300"`

	// Backend callbacks
	BackendURL         string `env:"BACKEND_API_URL" envDefault:"http://localhost:8000" validate:"required,url"`
	ServiceToken       string `env:"SERVICE_TOKEN,required" validate:"required,min=16"`
	CallbackTimeoutSec int    `env:"CALLBACK_TIMEOUT_SEC" envDefault:"10" validate:"min=1,max=60"`

	// Retention
	CompletedRetention  time.Duration `env:"COMPLETED_RETENTION" envDefault:"24h"`
	CompletedKeepCount  int           `env:"COMPLETED_KEEP_COUNT" envDefault:"1000" validate:"min=0"`
	FailedRetention     time.Duration `env:"FAILED_RETENTION" envDefault:"168h"`
	PurgeSchedule       string        `env:"PURGE_SCHEDULE" envDefault:"@every 1h" validate:"required"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required,min=32"`

	// Platform credentials
	TwitterBearerToken string `env:"TWITTER_BEARER_TOKEN"`
	InstagramSimulator bool   `env:"INSTAGRAM_SIMULATOR" envDefault:"true"`

	// Ops alerting on terminal job failures
	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	AlertFrom    string `env:"ALERT_FROM" validate:"required_if=Env production,required_if=Env staging"`
	AlertTo      string `env:"ALERT_TO"`
}

func Load() (*Config, error) {
	// Missing .env is fine; real env vars win either way.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.JobRetryDelaySec) * time.Second
}

func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSec) * time.Second
}

func (c *Config) CallbackTimeout() time.Duration {
	return time.Duration(c.CallbackTimeoutSec) * time.Second
}

func (c *Config) DBConnLifetime() time.Duration {
	return time.Duration(c.DBConnLifetimeMin) * time.Minute
}

func (c *Config) DBConnIdleTime() time.Duration {
	return time.Duration(c.DBConnIdleMin) * time.Minute
}

func (c *Config) DBConnectTimeout() time.Duration {
	return time.Duration(c.DBConnectTimeoutSec) * time.Second
}

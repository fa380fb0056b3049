package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the agent configuration, read from YAML with env overrides
type Config struct {
	Env         string `yaml:"env" env:"ENV" env-default:"local"`
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH" env-default:"./driver-agent.db"`

	Log          LogConfig          `yaml:"log"`
	Storage      StorageConfig      `yaml:"storage"`
	Backend      BackendConfig      `yaml:"backend"`
	Auth         AuthConfig         `yaml:"auth"`
	Queue        QueueConfig        `yaml:"queue"`
	Trips        TripsConfig        `yaml:"trips"`
	Session      SessionConfig      `yaml:"session"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Tracking     TrackingConfig     `yaml:"tracking"`
	History      HistoryConfig      `yaml:"history"`
	Server       ServerConfig       `yaml:"server"`
	Device       DeviceConfig       `yaml:"device"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"` // json, text
}

// StorageConfig selects the durable key-value backend
type StorageConfig struct {
	Driver string      `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"` // sqlite, redis, memory
	Redis  RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"driver-agent"`
}

type BackendConfig struct {
	BaseURL   string `yaml:"base_url" env:"BACKEND_BASE_URL" env-default:"https://highwayads.net/wp-json"`
	Namespace string `yaml:"namespace" env:"BACKEND_NAMESPACE" env-default:"/highwayads/v1"`
	Timeout   int    `yaml:"timeout" env:"BACKEND_TIMEOUT" env-default:"15"` // seconds
}

type AuthConfig struct {
	Username     string `yaml:"username" env:"AUTH_USERNAME"`
	Password     string `yaml:"password" env:"AUTH_PASSWORD"`
	PersistToken bool   `yaml:"persist_token" env:"AUTH_PERSIST_TOKEN" env-default:"false"`
}

type QueueConfig struct {
	MaxRetries    int           `yaml:"max_retries" env:"QUEUE_MAX_RETRIES" env-default:"5"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"QUEUE_FLUSH_INTERVAL" env-default:"30s"`
	AutoFlush     bool          `yaml:"auto_flush" env:"QUEUE_AUTO_FLUSH" env-default:"true"`
}

type TripsConfig struct {
	PerPage  int  `yaml:"per_page" env:"TRIPS_PER_PAGE" env-default:"50"`
	AutoLoad bool `yaml:"auto_load" env:"TRIPS_AUTO_LOAD" env-default:"true"`
}

type SessionConfig struct {
	MaxIdle       time.Duration `yaml:"max_idle" env:"SESSION_MAX_IDLE" env-default:"30m"`
	WarningLead   time.Duration `yaml:"warning_lead" env:"SESSION_WARNING_LEAD" env-default:"2m"`
	FallbackCheck time.Duration `yaml:"fallback_check" env:"SESSION_FALLBACK_CHECK" env-default:"5m"`
}

type ConnectivityConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval" env:"CONNECTIVITY_PROBE_INTERVAL" env-default:"15s"`
	ProbePath     string        `yaml:"probe_path" env:"CONNECTIVITY_PROBE_PATH" env-default:"/"`
}

type TrackingConfig struct {
	PointBatchSize     int           `yaml:"point_batch_size" env:"TRACKING_POINT_BATCH_SIZE" env-default:"20"`
	PointFlushInterval time.Duration `yaml:"point_flush_interval" env:"TRACKING_POINT_FLUSH_INTERVAL" env-default:"10s"`
}

// HistoryConfig controls the local flush history kept for the status command
type HistoryConfig struct {
	Retention time.Duration `yaml:"retention" env:"HISTORY_RETENTION" env-default:"720h"`
	Cleanup   string        `yaml:"cleanup" env:"HISTORY_CLEANUP" env-default:"@daily"` // cron spec
}

type ServerConfig struct {
	Enabled bool `yaml:"enabled" env:"SERVER_ENABLED" env-default:"true"`
	Port    int  `yaml:"port" env:"SERVER_PORT" env-default:"8765"`
}

type DeviceConfig struct {
	ID   string `yaml:"id" env:"DEVICE_ID"`
	Name string `yaml:"name" env:"DEVICE_NAME"`
}

// LoadConfig reads the YAML file at path (if present) and applies env overrides.
// A missing file is not an error; the defaults plus environment are used.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read env config: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would make the agent misbehave silently
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if c.Queue.MaxRetries <= 0 {
		return errors.New("queue.max_retries must be positive")
	}
	if c.Queue.FlushInterval <= 0 {
		return errors.New("queue.flush_interval must be positive")
	}
	if c.Session.MaxIdle <= 0 {
		return errors.New("session.max_idle must be positive")
	}
	if c.Session.WarningLead < 0 || c.Session.WarningLead >= c.Session.MaxIdle {
		return errors.New("session.warning_lead must be within [0, max_idle)")
	}
	if c.Trips.PerPage <= 0 {
		return errors.New("trips.per_page must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "local" || c.Env == "development"
}

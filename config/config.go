// Package config loads process configuration from .env, the environment and
// an optional YAML file, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the server
type Config struct {
	Port              string        `env:"PORT,default=8080" yaml:"port"`
	DBDriver          string        `env:"DB_DRIVER,default=sqlite3" yaml:"db_driver"`
	DatabaseURL       string        `env:"DATABASE_URL,default=file:consy.db?_foreign_keys=on" yaml:"database_url"`
	LogLevel          string        `env:"LOG_LEVEL,default=info" yaml:"log_level"`
	LogFormat         string        `env:"LOG_FORMAT,default=text" yaml:"log_format"`
	AuthSecret        string        `env:"AUTH_SECRET" yaml:"auth_secret"`
	RateLimitRPS      int           `env:"RATE_LIMIT_RPS,default=20" yaml:"rate_limit_rps"`
	RateLimitBurst    int           `env:"RATE_LIMIT_BURST,default=40" yaml:"rate_limit_burst"`
	RedisURL          string        `env:"REDIS_URL" yaml:"redis_url"`
	RedisChannel      string        `env:"REDIS_CHANNEL,default=consy-events" yaml:"redis_channel"`
	ReconcileSchedule string        `env:"RECONCILE_SCHEDULE,default=@every 10m" yaml:"reconcile_schedule"`
	HistoryLimit      int           `env:"HISTORY_LIMIT,default=100" yaml:"history_limit"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" yaml:"shutdown_timeout"`
}

// Load reads .env (if present), decodes the environment and overlays the
// YAML file named by CONFIG_FILE.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("rate limit values must be positive")
	}
	if c.HistoryLimit <= 0 {
		return errors.New("HISTORY_LIMIT must be positive")
	}
	return nil
}

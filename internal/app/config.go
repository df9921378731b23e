package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, read from DOKQ_* environment
// variables.
type Config struct {
	Driver      string `env:"DOKQ_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"DOKQ_SQLITE_PATH" envDefault:"./.data/dokq.db"`
	PostgresDSN string `env:"DOKQ_POSTGRES_DSN"`

	Queue       string        `env:"DOKQ_QUEUE" envDefault:"default"`
	MaxAttempts int           `env:"DOKQ_MAX_ATTEMPTS" envDefault:"5"`
	Lease       time.Duration `env:"DOKQ_LEASE" envDefault:"5m"`

	Workers      int           `env:"DOKQ_WORKERS" envDefault:"4"`
	PollInterval time.Duration `env:"DOKQ_POLL_INTERVAL" envDefault:"1s"`

	LogLevel  string `env:"DOKQ_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"DOKQ_LOG_FORMAT" envDefault:"json"`

	TracingEndpoint string `env:"DOKQ_TRACING_ENDPOINT"`
	TracingInsecure bool   `env:"DOKQ_TRACING_INSECURE" envDefault:"false"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	// The memory store is library-only: a per-process map cannot outlive one
	// CLI invocation, so enqueue and claim would never see each other.
	switch c.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown driver %q (sqlite, postgres)", c.Driver)
	}
	if c.Driver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("driver postgres needs DOKQ_POSTGRES_DSN")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("DOKQ_MAX_ATTEMPTS=%d, want >=1", c.MaxAttempts)
	}
	if c.Lease <= 0 {
		return fmt.Errorf("DOKQ_LEASE=%v, want >0", c.Lease)
	}
	if c.Workers < 1 {
		return fmt.Errorf("DOKQ_WORKERS=%d, want >=1", c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("DOKQ_POLL_INTERVAL=%v, want >0", c.PollInterval)
	}
	return nil
}

package app

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Driver != "sqlite" {
		t.Fatalf("driver=%q, want sqlite", cfg.Driver)
	}
	if cfg.Queue != "default" {
		t.Fatalf("queue=%q, want default", cfg.Queue)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("maxAttempts=%d, want 5", cfg.MaxAttempts)
	}
	if cfg.Lease != 5*time.Minute {
		t.Fatalf("lease=%v, want 5m", cfg.Lease)
	}
	if cfg.Workers != 4 || cfg.PollInterval != time.Second {
		t.Fatalf("workers=%d poll=%v, want 4 and 1s", cfg.Workers, cfg.PollInterval)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("DOKQ_DRIVER", "postgres")
	t.Setenv("DOKQ_POSTGRES_DSN", "postgres://dokq@localhost:5432/dokq")
	t.Setenv("DOKQ_QUEUE", "emails")
	t.Setenv("DOKQ_MAX_ATTEMPTS", "2")
	t.Setenv("DOKQ_LEASE", "30s")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Driver != "postgres" || cfg.Queue != "emails" {
		t.Fatalf("driver=%q queue=%q", cfg.Driver, cfg.Queue)
	}
	if cfg.MaxAttempts != 2 || cfg.Lease != 30*time.Second {
		t.Fatalf("maxAttempts=%d lease=%v", cfg.MaxAttempts, cfg.Lease)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"unknown driver", "DOKQ_DRIVER", "mysql", "unknown driver"},
		{"memory driver is library-only", "DOKQ_DRIVER", "memory", "unknown driver"},
		{"zero attempts", "DOKQ_MAX_ATTEMPTS", "0", "DOKQ_MAX_ATTEMPTS"},
		{"negative lease", "DOKQ_LEASE", "-1s", "DOKQ_LEASE"},
		{"zero workers", "DOKQ_WORKERS", "0", "DOKQ_WORKERS"},
		{"zero poll interval", "DOKQ_POLL_INTERVAL", "0s", "DOKQ_POLL_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := loadConfig()
			if err == nil {
				t.Fatal("load config succeeded")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigPostgresNeedsDSN(t *testing.T) {
	t.Setenv("DOKQ_DRIVER", "postgres")
	_, err := loadConfig()
	if err == nil {
		t.Fatal("load config succeeded without a dsn")
	}
}

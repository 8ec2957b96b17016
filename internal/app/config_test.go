package app

import (
	"strings"
	"testing"
	"time"

	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "OUTBOX_BATCH_SIZE", "OUTBOX_POLL_INTERVAL", "PLANNER_INTERVAL", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig(logger.Nop())
	if cfg.Addr() != ":8080" {
		t.Fatalf("Addr: %q", cfg.Addr())
	}
	if cfg.Drain.BatchSize != 50 || cfg.Drain.MaxAttempts != 8 {
		t.Fatalf("drain defaults: %+v", cfg.Drain)
	}
	if cfg.OutboxPollInterval != 2*time.Second || cfg.PlannerInterval != 10*time.Minute {
		t.Fatalf("intervals: %v %v", cfg.OutboxPollInterval, cfg.PlannerInterval)
	}
	if len(cfg.CORSOrigins) == 0 {
		t.Fatalf("expected dev CORS origins")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "0.0.0.0:9000")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "3")
	t.Setenv("OUTBOX_POLL_INTERVAL", "500ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	cfg := LoadConfig(logger.Nop())
	if cfg.Addr() != "0.0.0.0:9000" {
		t.Fatalf("Addr: %q", cfg.Addr())
	}
	if cfg.Drain.MaxAttempts != 3 || cfg.OutboxPollInterval != 500*time.Millisecond {
		t.Fatalf("overrides not applied: %+v %v", cfg.Drain, cfg.OutboxPollInterval)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://admin.example.com" {
		t.Fatalf("CORS origins: %v", cfg.CORSOrigins)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LEGACY_API_KEY", "key")
	t.Setenv("LEGACY_BASE_ID", "appBase")
	cfg := LoadConfig(logger.Nop())
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected missing DATABASE_URL, got %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/habitbridge")
	t.Setenv("LEGACY_API_KEY", "")
	cfg = LoadConfig(logger.Nop())
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "LEGACY_API_KEY") {
		t.Fatalf("expected missing LEGACY_API_KEY, got %v", err)
	}

	t.Setenv("LEGACY_API_KEY", "key")
	cfg = LoadConfig(logger.Nop())
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

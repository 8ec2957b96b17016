package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/habitbridge-backend/internal/data/db"
	httpMW "github.com/yungbote/habitbridge-backend/internal/http/middleware"
	"github.com/yungbote/habitbridge-backend/internal/legacy"
	"github.com/yungbote/habitbridge-backend/internal/notify"
	"github.com/yungbote/habitbridge-backend/internal/platform/envutil"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/sync/outbox"
)

type Config struct {
	Port            string
	ShutdownTimeout time.Duration
	MetricsAddr     string
	Tracing         bool

	DB     db.Config
	Legacy legacy.Config
	VAPID  notify.VAPIDConfig

	LegacyWebhookSecret string
	AdminJWTSecret      string
	RedisAddr           string
	CORSOrigins         []string

	Drain              outbox.DrainConfig
	OutboxPollInterval time.Duration

	Planner          notify.PlannerConfig
	PlannerInterval  time.Duration
	Dispatch         notify.DispatcherConfig
	DispatchInterval time.Duration

	WorkersEnabled bool
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:            envutil.String("PORT", "8080"),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		MetricsAddr:     envutil.String("METRICS_ADDR", ":9090"),
		Tracing:         envutil.Bool("OTEL_ENABLED", false),

		DB:     db.ConfigFromEnv(),
		Legacy: legacy.ConfigFromEnv(),
		VAPID:  notify.VAPIDConfigFromEnv(),

		LegacyWebhookSecret: envutil.String("LEGACY_WEBHOOK_SECRET", ""),
		AdminJWTSecret:      envutil.String("ADMIN_JWT_SECRET", ""),
		RedisAddr:           envutil.String("REDIS_ADDR", ""),

		Drain: outbox.DrainConfig{
			MaxAttempts: envutil.Int("OUTBOX_MAX_ATTEMPTS", 8),
			BatchSize:   envutil.Int("OUTBOX_BATCH_SIZE", 50),
			Concurrency: envutil.Int("OUTBOX_CONCURRENCY", 4),
			ClaimTTL:    envutil.Duration("OUTBOX_CLAIM_TTL", 5*time.Minute),
		},
		OutboxPollInterval: envutil.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),

		Planner: notify.PlannerConfig{
			BatchSize:   envutil.Int("PLANNER_BATCH_SIZE", 200),
			Concurrency: envutil.Int("PLANNER_CONCURRENCY", 8),
		},
		PlannerInterval: envutil.Duration("PLANNER_INTERVAL", 10*time.Minute),
		Dispatch: notify.DispatcherConfig{
			BatchSize:   envutil.Int("DISPATCH_BATCH_SIZE", 100),
			Concurrency: envutil.Int("DISPATCH_CONCURRENCY", 4),
			MaxAttempts: envutil.Int("DISPATCH_MAX_ATTEMPTS", 3),
		},
		DispatchInterval: envutil.Duration("DISPATCH_INTERVAL", 30*time.Second),

		WorkersEnabled: envutil.Bool("WORKERS_ENABLED", true),
	}
	cfg.CORSOrigins = httpMW.AllowedOrigins()

	if log != nil {
		if strings.TrimSpace(cfg.LegacyWebhookSecret) == "" {
			log.Warn("LEGACY_WEBHOOK_SECRET not set; every legacy webhook will be rejected")
		}
		if strings.TrimSpace(cfg.AdminJWTSecret) == "" {
			log.Warn("ADMIN_JWT_SECRET not set; admin routes will refuse every request")
		}
		if cfg.RedisAddr == "" {
			log.Info("REDIS_ADDR not set; user cache disabled")
		}
	}
	return cfg
}

// Validate checks what the server cannot start without. The worker needs
// both stores, so both are required here.
func (c Config) Validate() error {
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if err := c.Legacy.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("missing PORT")
	}
	return nil
}

func (c Config) Addr() string {
	p := strings.TrimSpace(c.Port)
	if strings.Contains(p, ":") {
		return p
	}
	return ":" + p
}

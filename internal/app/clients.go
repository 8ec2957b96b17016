package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	cache "github.com/yungbote/habitbridge-backend/internal/clients/redis"
	"github.com/yungbote/habitbridge-backend/internal/legacy"
	"github.com/yungbote/habitbridge-backend/internal/notify"
	"github.com/yungbote/habitbridge-backend/internal/platform/envutil"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type Clients struct {
	Legacy       legacy.Store
	LegacySchema *legacy.Schema
	Redis        *goredis.Client
	UserCache    cache.UserCache
	Push         notify.Transport
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	schema, err := legacy.DefaultSchema()
	if err != nil {
		return Clients{}, fmt.Errorf("load legacy schema: %w", err)
	}
	store, err := legacy.NewClient(log, cfg.Legacy)
	if err != nil {
		return Clients{}, fmt.Errorf("init legacy client: %w", err)
	}

	// Redis is optional; the cache falls back to a no-op.
	userCache := cache.NopUserCache()
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		c, err := cache.Connect(ctx)
		if err != nil {
			log.Warn("redis unavailable; user cache disabled", "error", err)
		} else {
			rdb = c
			userCache = cache.NewUserCacheWithClient(log, rdb, envutil.Duration("USER_CACHE_TTL", 5*time.Minute))
		}
	}

	var push notify.Transport = notify.NopTransport{}
	if cfg.VAPID.PublicKey != "" || cfg.VAPID.PrivateKey != "" {
		t, err := notify.NewWebPushTransport(cfg.VAPID)
		if err != nil {
			_ = userCache.Close()
			return Clients{}, fmt.Errorf("init web push: %w", err)
		}
		push = t
	} else {
		log.Warn("VAPID keys not set; due notification jobs will fail as push disabled")
	}

	return Clients{
		Legacy:       store,
		LegacySchema: schema,
		Redis:        rdb,
		UserCache:    userCache,
		Push:         push,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.UserCache != nil {
		_ = c.UserCache.Close()
	}
}

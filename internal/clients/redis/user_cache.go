package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/envutil"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

// UserCache sits in front of user lookups. It never fails a lookup: every
// Redis error degrades to a miss.
type UserCache interface {
	Get(ctx context.Context, key string) (*types.User, bool)
	Set(ctx context.Context, u *types.User, keys ...string)
	Delete(ctx context.Context, keys ...string)
	Close() error
}

func UserIDKey(id string) string       { return "user:id:" + strings.TrimSpace(id) }
func UserEmailKey(email string) string { return "user:email:" + strings.ToLower(strings.TrimSpace(email)) }

type userCache struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

// Connect dials REDIS_ADDR and pings it once.
func Connect(ctx context.Context) (*goredis.Client, error) {
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     envutil.String("REDIS_PASSWORD", ""),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func NewUserCacheWithClient(log *logger.Logger, rdb *goredis.Client, ttl time.Duration) UserCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &userCache{
		log:    log.With("service", "RedisUserCache"),
		rdb:    rdb,
		prefix: envutil.String("REDIS_KEY_PREFIX", "habitbridge:"),
		ttl:    ttl,
	}
}

func (c *userCache) Get(ctx context.Context, key string) (*types.User, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("user cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var u types.User
	if err := json.Unmarshal(raw, &u); err != nil {
		c.log.Warn("user cache entry unreadable", "key", key, "error", err)
		return nil, false
	}
	return &u, true
}

func (c *userCache) Set(ctx context.Context, u *types.User, keys ...string) {
	if u == nil || len(keys) == 0 {
		return
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	pipe := c.rdb.Pipeline()
	for _, k := range keys {
		pipe.Set(ctx, c.prefix+k, raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("user cache set failed", "error", err)
	}
}

func (c *userCache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil {
		c.log.Warn("user cache delete failed", "error", err)
	}
}

func (c *userCache) Close() error { return c.rdb.Close() }

type nopUserCache struct{}

// NopUserCache misses every lookup.
func NopUserCache() UserCache { return nopUserCache{} }

func (nopUserCache) Get(context.Context, string) (*types.User, bool) { return nil, false }
func (nopUserCache) Set(context.Context, *types.User, ...string)     {}
func (nopUserCache) Delete(context.Context, ...string)               {}
func (nopUserCache) Close() error                                    { return nil }

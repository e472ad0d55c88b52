package stub

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-console/internal/config"
)

// Throttle rate-limits the auth endpoints per client address, backed
// by Redis counters so limits hold across stub restarts. With no Redis
// address configured the throttle is disabled.
type Throttle struct {
	client *redis.Client
	limit  int
	window time.Duration
	log    *zap.Logger
}

// NewThrottle connects to Redis when configured.
func NewThrottle(cfg config.StubConfig, logger *zap.Logger) *Throttle {
	t := &Throttle{limit: cfg.AuthRatePerMinute, window: time.Minute, log: logger}
	if cfg.RedisAddr == "" || cfg.AuthRatePerMinute <= 0 {
		return t
	}

	t.client = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := t.client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis, auth throttling disabled", zap.Error(err))
		_ = t.client.Close()
		t.client = nil
	} else {
		logger.Info("connected to redis for auth throttling")
	}
	return t
}

// Allow reports whether another auth attempt from key is permitted.
// Redis failures fail open: the stub must stay usable without it.
func (t *Throttle) Allow(ctx context.Context, key string) bool {
	if t == nil || t.client == nil {
		return true
	}
	redisKey := "stub:auth:" + key
	n, err := t.client.Incr(ctx, redisKey).Result()
	if err != nil {
		t.log.Warn("throttle counter", zap.Error(err))
		return true
	}
	if n == 1 {
		_ = t.client.Expire(ctx, redisKey, t.window).Err()
	}
	return n <= int64(t.limit)
}

// Close releases the Redis connection.
func (t *Throttle) Close() {
	if t != nil && t.client != nil {
		_ = t.client.Close()
	}
}

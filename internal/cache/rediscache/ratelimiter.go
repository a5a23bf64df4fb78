package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts sync calls per device inside a window. Devices drain their queues
// in bursts after reconnecting, so the window caps sync calls, not events.
type RateLimiter struct {
	c      *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(c *redis.Client, limit int64, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{c: c, limit: limit, window: window}
}

// Allow делает INCR по ключу устройства и продлевает TTL окна.
// Возвращает (allowed, currentCount). limit <= 0 отключает ограничение.
func (rl *RateLimiter) Allow(ctx context.Context, deviceID string) (bool, int64, error) {
	if rl.limit <= 0 {
		return true, 0, nil
	}
	key := fmt.Sprintf("custody:ratelimit:sync:%s", deviceID)

	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= rl.limit, n, nil
}

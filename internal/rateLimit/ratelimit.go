package rateLimit

import (
	"context"
	"time"

	redisadapter "github.com/showgrid/booking-engine/internal/adapters/redis"
	"github.com/showgrid/booking-engine/internal/observability"
)

type RateLimiter struct {
	redis *redisadapter.Cache
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis}
}

// Allow counts a request against the key's window. Fails open when Redis
// is unreachable.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	fullKey := "rl:" + key

	pipe := rl.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, period)

	if _, err := pipe.Exec(ctx); err != nil {
		return true
	}

	if incr.Val() > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}

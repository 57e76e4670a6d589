// Package idempotency caches HTTP responses by Idempotency-Key so a client
// retry replays the stored response instead of re-running the operation.
// The storage layer's unique keys remain the real guard; this cache only
// short-circuits the common retry.
package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/showgrid/booking-engine/internal/adapters/redis"
)

type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	cached, err := i.redis.Get(ctx, key)
	if err != nil || cached == nil {
		return nil, err
	}
	return &Response{Status: cached.Status, Result: cached.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{
		Status: resp.Status,
		Result: resp.Result,
	}, i.ttl)
}

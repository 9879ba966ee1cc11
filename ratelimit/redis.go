package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps one counter per key with a TTL set on the first hit.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	// individual key for each user
	userKey := l.prefix + ":" + key

	count, err := l.client.Incr(ctx, userKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis error incrementing count: %w", err)
	}

	// TTL only on the first increment
	if count == 1 {
		if err := l.client.Expire(ctx, userKey, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis error setting TTL: %w", err)
		}
	}

	if count > l.limit {
		retryAfter, err := l.client.TTL(ctx, userKey).Result()
		if err != nil || retryAfter < 0 {
			retryAfter = l.window
		}
		return Decision{Allowed: false, Count: count, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true, Count: count}, nil
}

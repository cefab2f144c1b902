package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter in Redis, so every instance shares
// one quota per caller.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	rate   int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a RedisLimiter allowing rate requests per window.
func NewRedisLimiter(client redis.UniversalClient, prefix string, rate int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix + "ratelimit:",
		rate:   rate,
		window: window,
		now:    time.Now,
	}
}

// Check increments key's counter for the current window. The window starts
// with the first request and the key expires with it.
func (l *RedisLimiter) Check(ctx context.Context, key string) (Decision, error) {
	if l.rate <= 0 {
		return Decision{Allowed: true}, nil
	}

	redisKey := l.prefix + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("counting requests for %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("starting window for %s: %w", key, err)
		}
	}
	remaining, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil || remaining <= 0 {
		remaining = l.window
	}

	return Decision{
		Allowed:   int(count) <= l.rate,
		Limit:     l.rate,
		Remaining: max(l.rate-int(count), 0),
		ResetAt:   l.now().Add(remaining),
	}, nil
}

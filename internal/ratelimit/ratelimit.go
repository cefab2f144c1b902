// Package ratelimit throttles requests per caller. Limiter is an in-process
// token bucket; RedisLimiter is a fixed window shared by every instance.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Checker decides whether the caller identified by key may proceed, and
// consumes one unit of quota when it may.
type Checker interface {
	Check(ctx context.Context, key string) (Decision, error)
}

// bucket tracks the token state for a single key.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter implements a token-bucket rate limiter keyed by caller id.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	window  time.Duration
	now     func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows rate requests per window, refilled
// continuously.
func New(rate int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		now:     time.Now,
	}
}

// getBucket returns the bucket for key, creating a full one if it doesn't
// exist. Must be called with l.mu held.
func (l *Limiter) getBucket(key string) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.rate), lastRefill: l.now()}
		l.buckets[key] = b
	}
	return b
}

// refill adds tokens for the time elapsed since the last refill.
// Must be called with l.mu held.
func (l *Limiter) refill(b *bucket) {
	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.tokens+elapsed*l.refillRate(), float64(l.rate))
	b.lastRefill = now
}

func (l *Limiter) refillRate() float64 {
	return float64(l.rate) / l.window.Seconds()
}

// Allow reports whether a request for key is permitted, consuming a token
// when it is.
func (l *Limiter) Allow(key string) bool {
	d, _ := l.Check(context.Background(), key)
	return d.Allowed
}

// Check consumes a token for key if one is available and reports the state
// of the bucket afterwards. A non-positive rate disables limiting.
func (l *Limiter) Check(_ context.Context, key string) (Decision, error) {
	if l.rate <= 0 {
		return Decision{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getBucket(key)
	l.refill(b)

	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}
	return l.decision(b, allowed), nil
}

// Status returns the state of key's bucket without consuming a token.
func (l *Limiter) Status(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getBucket(key)
	l.refill(b)
	return l.decision(b, b.tokens >= 1)
}

// decision reports the bucket state. ResetAt is when the bucket will be
// full again. Must be called with l.mu held.
func (l *Limiter) decision(b *bucket, allowed bool) Decision {
	d := Decision{
		Allowed:   allowed,
		Limit:     l.rate,
		Remaining: max(int(b.tokens), 0),
		ResetAt:   l.now(),
	}
	if deficit := float64(l.rate) - b.tokens; deficit > 0 {
		d.ResetAt = d.ResetAt.Add(time.Duration(deficit / l.refillRate() * float64(time.Second)))
	}
	return d
}

// Sweep drops buckets that have been idle long enough to be full again.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if l.now().Sub(b.lastRefill) >= l.window {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

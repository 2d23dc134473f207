package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	defaultRequestsPerSecond = 10
	defaultBurst             = 20
	limiterIdleTimeout       = 5 * time.Minute
)

// RateLimiter paces GitHub calls per token so a rebuild fanning out over
// many files does not burn through the caller's API quota in one burst
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	rate      float64
	burst     int
	lastSweep time.Time
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &RateLimiter{
		buckets:   make(map[string]*tokenBucket),
		rate:      requestsPerSecond,
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// Wait blocks until the token may make another request or ctx ends
func (r *RateLimiter) Wait(ctx context.Context, token string) error {
	return r.bucket(token).wait(ctx)
}

// Allow reports whether a request may go out right now
func (r *RateLimiter) Allow(token string) bool {
	return r.bucket(token).allow()
}

func (r *RateLimiter) bucket(token string) *tokenBucket {
	sum := sha256.Sum256([]byte(token))
	key := hex.EncodeToString(sum[:8])

	r.mu.Lock()
	defer r.mu.Unlock()

	if now := time.Now(); now.Sub(r.lastSweep) > limiterIdleTimeout {
		r.sweep(now.Add(-limiterIdleTimeout))
		r.lastSweep = now
	}

	b, ok := r.buckets[key]
	if !ok {
		b = newTokenBucket(r.rate, r.burst)
		r.buckets[key] = b
	}
	return b
}

// sweep drops buckets idle since before cutoff; callers hold r.mu
func (r *RateLimiter) sweep(cutoff time.Time) {
	for key, b := range r.buckets {
		b.mu.Lock()
		idle := b.lastUsed.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(r.buckets, key)
		}
	}
}

type tokenBucket struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	burst    int
	tokens   float64
	lastUsed time.Time
	lastFill time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	now := time.Now()
	return &tokenBucket{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		lastFill: now,
		lastUsed: now,
	}
}

func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	tb.lastUsed = time.Now()

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *tokenBucket) wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		tb.lastUsed = time.Now()

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		next := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next):
		}
	}
}

func (tb *tokenBucket) refill() {
	now := time.Now()
	tb.tokens += now.Sub(tb.lastFill).Seconds() * tb.rate
	tb.lastFill = now
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
}

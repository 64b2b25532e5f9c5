package exchange

import (
	"context"
	"sync"
	"time"
)

// RateLimiter throttles outbound calls so the agent stays inside the
// simulator's per-second budgets. Wait blocks until a slot is free or the
// context ends.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// TokenBucketLimiter refills rate tokens per second up to burst. One token is
// spent per call.
type TokenBucketLimiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewTokenBucketLimiter allows rate tokens per second with the given burst.
func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	l := &TokenBucketLimiter{
		rate:  rate,
		burst: float64(burst),
		now:   time.Now,
	}
	l.tokens = l.burst
	l.last = l.now()
	return l
}

// SetClock overrides the clock, for tests.
func (l *TokenBucketLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	l.last = now()
}

// Wait takes one token, sleeping in refill-sized steps until one is
// available. It returns early with the context's error on cancellation, so a
// shutting-down session never sits in a rate-limit queue.
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.tokens += now.Sub(l.last).Seconds() * l.rate
		l.last = now
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

package util

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by every request an adapter
// instance sends. Waiters sleep exactly until their token is due.
type RateLimiter struct {
	mu     sync.Mutex
	perSec float64
	burst  float64
	tokens float64
	at     time.Time
}

// NewRateLimiter allows perMinute requests per minute with a burst of one
// second's worth of requests (at least one). A non-positive perMinute
// disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{}
	}
	perSec := float64(perMinute) / 60
	burst := math.Max(1, math.Floor(perSec))
	return &RateLimiter{perSec: perSec, burst: burst, tokens: burst, at: time.Now()}
}

// reserve takes a token and returns how long the caller must wait before
// using it. The token is owed when the bucket is empty.
func (rl *RateLimiter) reserve(now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = math.Min(rl.burst, rl.tokens+now.Sub(rl.at).Seconds()*rl.perSec)
	rl.at = now
	rl.tokens--
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens / rl.perSec * float64(time.Second))
}

// cancel returns a reserved token that was never used.
func (rl *RateLimiter) cancel() {
	rl.mu.Lock()
	rl.tokens = math.Min(rl.burst, rl.tokens+1)
	rl.mu.Unlock()
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.perSec == 0 {
		return ctx.Err()
	}
	delay := rl.reserve(time.Now())
	if delay == 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		rl.cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

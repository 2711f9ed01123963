package resilience

import (
	"context"
	"math"
	"sync"
	"time"
)

// minPollInterval floors the wait between token checks so an empty bucket
// does not busy-loop.
const minPollInterval = 10 * time.Millisecond

// RateLimiter is a token bucket. Tokens accrue continuously at rate per
// second up to burst; each permitted call consumes one.
type RateLimiter struct {
	mu       sync.Mutex
	rate     float64
	burst    float64
	tokens   float64
	lastFill time.Time
}

// NewRateLimiter creates a full bucket allowing rate requests per second
// with the given burst size. Non-positive arguments fall back to a rate of
// 10 and a burst matching the rate.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst < 1 {
		burst = int(rate)
		if burst < 1 {
			burst = 1
		}
	}

	return &RateLimiter{
		rate:     rate,
		burst:    float64(burst),
		tokens:   float64(burst),
		lastFill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	ok, _ := rl.take()
	return ok
}

// Wait blocks until a token is consumed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		ok, retryIn := rl.take()
		if ok {
			return nil
		}

		timer := time.NewTimer(retryIn)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// SetRate changes the refill rate. Time already elapsed is credited at the
// old rate first.
func (rl *RateLimiter) SetRate(rate float64) {
	if rate <= 0 {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())
	rl.rate = rate
}

// Stats reports the configured rate, the burst size, and the tokens
// currently available.
func (rl *RateLimiter) Stats() (rate float64, burst int, available float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())
	return rl.rate, int(rl.burst), rl.tokens
}

// take refills from elapsed time and tries to consume one token. When the
// bucket is empty it reports how long until the next token accrues.
func (rl *RateLimiter) take() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())

	if rl.tokens >= 1 {
		rl.tokens--
		return true, 0
	}

	wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
	if wait < minPollInterval {
		wait = minPollInterval
	}
	return false, wait
}

func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastFill)
	if elapsed <= 0 {
		return
	}

	rl.tokens = math.Min(rl.tokens+elapsed.Seconds()*rl.rate, rl.burst)
	rl.lastFill = now
}

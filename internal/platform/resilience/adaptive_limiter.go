package resilience

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// maxBackoffStreak caps the compounding exponent so a burst of 429s cannot
// push the rate to effectively zero.
const maxBackoffStreak = 5

// recoveryCooldown spaces out rate increases.
const recoveryCooldown = time.Second

// AdaptiveLimiter wraps a RateLimiter and adjusts its rate from observed
// endpoint behavior: throttling errors cut the rate by BackoffFactor
// (compounding on consecutive hits), and RecoveryWindow consecutive
// successes raise it by RecoveryFactor, bounded by [MinRate, MaxRate].
// Public RPC endpoints rarely document their limits, so the limiter
// discovers them instead.
type AdaptiveLimiter struct {
	cfg     AdaptiveLimiterConfig
	limiter *RateLimiter

	mu             sync.RWMutex
	currentRate    float64
	lastAdjustment time.Time

	successStreak atomic.Int64
	failureStreak atomic.Int64
	totalRequests atomic.Int64
	rateLimitHits atomic.Int64
	adaptations   atomic.Int64
	currentLevel  atomic.Int32 // 0=min, 50=base, 100=max
}

// AdaptiveLimiterConfig tunes how far the limiter backs off and how
// cautiously it recovers.
type AdaptiveLimiterConfig struct {
	BaseRate       float64 // Starting rate, req/sec (default 1.0)
	MinRate        float64 // Backoff floor (default 0.1)
	MaxRate        float64 // Recovery ceiling (default 10.0)
	Burst          int     // Bucket size (default derived from BaseRate)
	BackoffFactor  float64 // Rate multiplier on throttle (default 0.5)
	RecoveryFactor float64 // Rate multiplier on recovery (default 1.1)
	RecoveryWindow int     // Consecutive successes before increasing (default 10)
}

func (cfg AdaptiveLimiterConfig) withDefaults() AdaptiveLimiterConfig {
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = 1.0
	}
	if cfg.MinRate <= 0 {
		cfg.MinRate = 0.1
	}
	if cfg.MaxRate <= 0 {
		cfg.MaxRate = 10.0
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.BaseRate * 2)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.BackoffFactor <= 0 || cfg.BackoffFactor >= 1 {
		cfg.BackoffFactor = 0.5
	}
	if cfg.RecoveryFactor <= 1 {
		cfg.RecoveryFactor = 1.1
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 10
	}

	// Keep minRate <= baseRate <= maxRate.
	cfg.MinRate = math.Min(cfg.MinRate, cfg.BaseRate)
	cfg.MaxRate = math.Max(cfg.MaxRate, cfg.BaseRate)
	return cfg
}

// NewAdaptiveLimiter builds a limiter running at cfg.BaseRate.
func NewAdaptiveLimiter(cfg AdaptiveLimiterConfig) *AdaptiveLimiter {
	cfg = cfg.withDefaults()

	a := &AdaptiveLimiter{
		cfg:            cfg,
		limiter:        NewRateLimiter(cfg.BaseRate, cfg.Burst),
		currentRate:    cfg.BaseRate,
		lastAdjustment: time.Now(),
	}
	a.currentLevel.Store(50)
	return a
}

// Wait blocks until a token is available or the context is cancelled.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	a.totalRequests.Add(1)
	return a.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed right now, without blocking.
func (a *AdaptiveLimiter) Allow() bool {
	a.totalRequests.Add(1)
	return a.limiter.Allow()
}

// RecordSuccess notes a successful call. After RecoveryWindow consecutive
// successes the rate is raised one step.
func (a *AdaptiveLimiter) RecordSuccess() {
	a.failureStreak.Store(0)

	if int(a.successStreak.Add(1)) >= a.cfg.RecoveryWindow {
		a.raiseRate()
	}
}

// RecordRateLimitError notes a throttling response and backs off
// immediately.
func (a *AdaptiveLimiter) RecordRateLimitError() {
	a.rateLimitHits.Add(1)
	a.successStreak.Store(0)

	a.cutRate(int(a.failureStreak.Add(1)))
}

// RecordError notes a non-throttling failure. Resets the success streak
// without backing off.
func (a *AdaptiveLimiter) RecordError() {
	a.successStreak.Store(0)
}

func (a *AdaptiveLimiter) cutRate(streak int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if streak > maxBackoffStreak {
		streak = maxBackoffStreak
	}

	factor := math.Pow(a.cfg.BackoffFactor, float64(streak))
	a.setRateLocked(math.Max(a.currentRate*factor, a.cfg.MinRate))
}

func (a *AdaptiveLimiter) raiseRate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successStreak.Store(0)

	if a.currentRate >= a.cfg.MaxRate {
		return
	}
	if time.Since(a.lastAdjustment) < recoveryCooldown {
		return
	}

	a.setRateLocked(math.Min(a.currentRate*a.cfg.RecoveryFactor, a.cfg.MaxRate))
}

// setRateLocked applies a rate change and its bookkeeping (caller must
// hold the lock). A no-op when the rate is unchanged.
func (a *AdaptiveLimiter) setRateLocked(newRate float64) {
	if newRate == a.currentRate {
		return
	}

	a.currentRate = newRate
	a.limiter.SetRate(newRate)
	a.lastAdjustment = time.Now()
	a.adaptations.Add(1)
	a.updateLevelLocked()
}

// updateLevelLocked maps the current rate onto 0-100: 0 at MinRate, 50 at
// BaseRate, 100 at MaxRate.
func (a *AdaptiveLimiter) updateLevelLocked() {
	var level int32
	switch {
	case a.currentRate <= a.cfg.MinRate:
		level = 0
	case a.currentRate >= a.cfg.MaxRate:
		level = 100
	case a.currentRate <= a.cfg.BaseRate:
		if span := a.cfg.BaseRate - a.cfg.MinRate; span > 0 {
			level = int32((a.currentRate - a.cfg.MinRate) / span * 50)
		} else {
			level = 50
		}
	default:
		if span := a.cfg.MaxRate - a.cfg.BaseRate; span > 0 {
			level = 50 + int32((a.currentRate-a.cfg.BaseRate)/span*50)
		} else {
			level = 50
		}
	}
	a.currentLevel.Store(level)
}

// Reset puts the limiter back at its base rate and clears the streaks.
func (a *AdaptiveLimiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successStreak.Store(0)
	a.failureStreak.Store(0)
	a.setRateLocked(a.cfg.BaseRate)
	a.lastAdjustment = time.Now()
}

// AdaptiveLimiterStats is a snapshot of limiter state.
type AdaptiveLimiterStats struct {
	CurrentRate     float64
	BaseRate        float64
	MinRate         float64
	MaxRate         float64
	Level           int // 0-100 (0=min, 50=base, 100=max)
	TotalRequests   int64
	RateLimitHits   int64
	Adaptations     int64
	AvailableTokens float64
}

// Stats snapshots the limiter's rates and counters.
func (a *AdaptiveLimiter) Stats() AdaptiveLimiterStats {
	a.mu.RLock()
	currentRate := a.currentRate
	a.mu.RUnlock()

	_, _, tokens := a.limiter.Stats()

	return AdaptiveLimiterStats{
		CurrentRate:     currentRate,
		BaseRate:        a.cfg.BaseRate,
		MinRate:         a.cfg.MinRate,
		MaxRate:         a.cfg.MaxRate,
		Level:           int(a.currentLevel.Load()),
		TotalRequests:   a.totalRequests.Load(),
		RateLimitHits:   a.rateLimitHits.Load(),
		Adaptations:     a.adaptations.Load(),
		AvailableTokens: tokens,
	}
}

// CurrentRate is the rate the limiter currently enforces, in req/sec.
func (a *AdaptiveLimiter) CurrentRate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentRate
}

// IsThrottled reports whether the limiter is running below its base rate.
func (a *AdaptiveLimiter) IsThrottled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentRate < a.cfg.BaseRate
}

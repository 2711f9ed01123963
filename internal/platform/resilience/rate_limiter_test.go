package resilience

import (
	"context"
	"testing"
	"time"
)

// TestRateLimiterBurst verifies the bucket starts full and drains
func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(10, 5)

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow() {
			allowed++
		}
	}

	if allowed != 5 {
		t.Errorf("Expected 5 requests from a burst of 5, got %d", allowed)
	}

	t.Log("✓ Burst capacity enforced")
}

// TestRateLimiterRefill verifies tokens come back over time
func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(100, 1) // 100/sec, refill every 10ms

	if !rl.Allow() {
		t.Fatal("Expected first request to pass")
	}
	if rl.Allow() {
		t.Fatal("Expected second immediate request to be rejected")
	}

	time.Sleep(30 * time.Millisecond)

	if !rl.Allow() {
		t.Error("Expected request to pass after refill window")
	}

	t.Log("✓ Tokens refill at the configured rate")
}

// TestRateLimiterWait verifies Wait blocks until a token is available
func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(50, 1)

	if !rl.Allow() {
		t.Fatal("Expected first request to pass")
	}

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	elapsed := time.Since(start)

	// 50/sec means the next token lands ~20ms out.
	if elapsed < 5*time.Millisecond {
		t.Errorf("Expected Wait to block, returned after %v", elapsed)
	}

	t.Logf("Wait blocked for %v", elapsed)
}

// TestRateLimiterWaitCancellation verifies Wait honors context
func TestRateLimiterWaitCancellation(t *testing.T) {
	rl := NewRateLimiter(0.1, 1) // one token per 10s
	rl.Allow()                   // drain

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	if err == nil {
		t.Fatal("Expected context error")
	}

	t.Log("✓ Wait aborts on context cancellation")
}

// TestAdaptiveLimiterBackoff verifies throttling halves the rate
func TestAdaptiveLimiterBackoff(t *testing.T) {
	al := NewAdaptiveLimiter(AdaptiveLimiterConfig{
		BaseRate:      10,
		MinRate:       1,
		MaxRate:       20,
		BackoffFactor: 0.5,
	})

	if got := al.CurrentRate(); got != 10 {
		t.Fatalf("Expected base rate 10, got %v", got)
	}

	al.RecordRateLimitError()

	if got := al.CurrentRate(); got != 5 {
		t.Errorf("Expected rate 5 after one throttle, got %v", got)
	}

	// Consecutive throttles compound
	al.RecordRateLimitError()
	if got := al.CurrentRate(); got >= 5 {
		t.Errorf("Expected compounding backoff below 5, got %v", got)
	}

	if !al.IsThrottled() {
		t.Error("Expected IsThrottled after backoff")
	}

	t.Log("✓ Adaptive limiter backs off on throttling")
}

// TestAdaptiveLimiterFloor verifies backoff never goes below MinRate
func TestAdaptiveLimiterFloor(t *testing.T) {
	al := NewAdaptiveLimiter(AdaptiveLimiterConfig{
		BaseRate:      10,
		MinRate:       2,
		MaxRate:       20,
		BackoffFactor: 0.5,
	})

	for i := 0; i < 20; i++ {
		al.RecordRateLimitError()
	}

	if got := al.CurrentRate(); got != 2 {
		t.Errorf("Expected floor rate 2, got %v", got)
	}

	stats := al.Stats()
	if stats.RateLimitHits != 20 {
		t.Errorf("Expected 20 rate limit hits, got %d", stats.RateLimitHits)
	}
	if stats.Level != 0 {
		t.Errorf("Expected level 0 at floor, got %d", stats.Level)
	}

	t.Log("✓ Backoff floors at MinRate")
}

// TestAdaptiveLimiterRecovery verifies sustained successes raise the rate
func TestAdaptiveLimiterRecovery(t *testing.T) {
	al := NewAdaptiveLimiter(AdaptiveLimiterConfig{
		BaseRate:       10,
		MinRate:        1,
		MaxRate:        20,
		BackoffFactor:  0.5,
		RecoveryFactor: 1.5,
		RecoveryWindow: 3,
	})

	al.RecordRateLimitError()
	throttled := al.CurrentRate()

	// Recovery waits at least a second after the last adjustment.
	time.Sleep(1100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		al.RecordSuccess()
	}

	if got := al.CurrentRate(); got <= throttled {
		t.Errorf("Expected recovery above %v, got %v", throttled, got)
	}

	t.Log("✓ Adaptive limiter recovers after sustained successes")
}

// TestAdaptiveLimiterReset verifies Reset restores the base rate
func TestAdaptiveLimiterReset(t *testing.T) {
	al := NewAdaptiveLimiter(AdaptiveLimiterConfig{
		BaseRate: 10,
		MinRate:  1,
		MaxRate:  20,
	})

	al.RecordRateLimitError()
	al.Reset()

	if got := al.CurrentRate(); got != 10 {
		t.Errorf("Expected base rate 10 after reset, got %v", got)
	}
	if al.IsThrottled() {
		t.Error("Expected not throttled after reset")
	}

	t.Log("✓ Reset restores base rate")
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.1,
	}
}

// Retry executes a function with exponential backoff until it succeeds
// or attempts run out.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult executes a function with exponential backoff and returns
// its result. Every error is considered retryable.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	return RetryIfWithResult(ctx, cfg, func(error) bool { return true }, fn)
}

// RetryIf executes a function with retry only while isRetryable approves
// the error.
func RetryIf(ctx context.Context, cfg RetryConfig, isRetryable func(error) bool, fn func(context.Context) error) error {
	_, err := RetryIfWithResult(ctx, cfg, isRetryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryIfWithResult executes a function returning a result, retrying only
// while isRetryable approves the error. Backoff between attempts is
// exponential with jitter, and the wait aborts as soon as ctx does.
func RetryIfWithResult[T any](ctx context.Context, cfg RetryConfig, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}

		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		}

		// No sleep after the last attempt.
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-time.After(backoffDelay(attempt, cfg)):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("max retry attempts reached: %w", lastErr)
}

// backoffDelay computes the delay before the next attempt:
// baseDelay * 2^attempt, capped at MaxDelay, randomized by +/-Jitter.
func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter > 0 {
		jitterAmount := delay * cfg.Jitter
		delay = delay - jitterAmount + (rand.Float64() * jitterAmount * 2)
	}

	return time.Duration(delay)
}

// IsRetryable classifies an error as transient or permanent. Reverts,
// insufficient funds, malformed requests, and cancellations never succeed
// on a second attempt; network hiccups, throttling, and server-side
// failures usually do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert") {
		return false
	}
	if strings.Contains(msg, "insufficient funds") {
		return false
	}
	if strings.Contains(msg, "invalid argument") {
		return false
	}
	if strings.Contains(msg, "status code 4") && !strings.Contains(msg, "status code 429") {
		return false
	}

	return true
}

// IsRateLimited reports whether an error indicates endpoint throttling:
// HTTP 429 or the -32005 JSON-RPC code public BSC providers return.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "-32005") ||
		strings.Contains(msg, "rate limit")
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   1 * time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      0,
	}
}

// TestRetrySucceedsAfterTransientFailures verifies eventual success is returned
func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := RetryWithResult(context.Background(), fastRetryConfig(5), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection refused")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	if result != 42 {
		t.Errorf("Expected 42, got %d", result)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}

	t.Log("✓ Retry returns first successful result")
}

// TestRetryExhaustsAttempts verifies the last error surfaces after max attempts
func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	lastErr := errors.New("rpc timeout")
	err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		return lastErr
	})

	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("Expected wrapped last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}

	t.Log("✓ Retry exhausts attempts and wraps the last error")
}

// TestRetryIfStopsOnNonRetryable verifies permanent errors bail immediately
func TestRetryIfStopsOnNonRetryable(t *testing.T) {
	calls := 0
	revertErr := errors.New("execution reverted: PancakeRouter: INSUFFICIENT_OUTPUT_AMOUNT")

	err := RetryIf(context.Background(), fastRetryConfig(5), IsRetryable, func(ctx context.Context) error {
		calls++
		return revertErr
	})

	if err == nil {
		t.Fatal("Expected error")
	}
	if !errors.Is(err, revertErr) {
		t.Errorf("Expected wrapped revert error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected exactly 1 call for a revert, got %d", calls)
	}

	t.Log("✓ Reverts are never retried")
}

// TestRetryRespectsContextCancellation verifies cancellation stops the loop
func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}, func(ctx context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("connection reset")
	})

	if err == nil {
		t.Fatal("Expected error after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got %v", err)
	}
	if calls > 3 {
		t.Errorf("Expected retry loop to stop promptly, got %d calls", calls)
	}

	t.Log("✓ Retry aborts on context cancellation")
}

// TestIsRetryable verifies transient/permanent error classification
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"circuit open", ErrCircuitOpen, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"wrapped cancellation", fmt.Errorf("broadcast: %w", context.Canceled), false},
		{"execution reverted", errors.New("execution reverted: TRANSFER_FROM_FAILED"), false},
		{"revert", errors.New("transaction would revert"), false},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), false},
		{"invalid argument", errors.New("invalid argument 0: json: cannot unmarshal"), false},
		{"bad request", errors.New("status code 400 from RPC"), false},
		{"throttled", errors.New("status code 429 Too Many Requests"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"nonce too low", errors.New("nonce too low"), true},
		{"replacement underpriced", errors.New("replacement transaction underpriced"), true},
		{"server error", errors.New("status code 503 Service Unavailable"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

// TestIsRateLimited verifies throttling detection for the adaptive limiter
func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		limited bool
	}{
		{"nil", nil, false},
		{"http 429", errors.New("status code 429"), true},
		{"too many requests", errors.New("Too Many Requests"), true},
		{"json-rpc throttle code", errors.New("rpc error -32005: limit exceeded"), true},
		{"rate limit text", errors.New("rate limit reached for endpoint"), true},
		{"plain timeout", errors.New("i/o timeout"), false},
		{"revert", errors.New("execution reverted"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimited(tt.err); got != tt.limited {
				t.Errorf("IsRateLimited(%v) = %v, want %v", tt.err, got, tt.limited)
			}
		})
	}
}

// TestBackoffDelayGrowth verifies exponential growth capped at MaxDelay
func TestBackoffDelayGrowth(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    1 * time.Second,
		Jitter:      0,
	}

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1 * time.Second, // capped
		1 * time.Second,
	}

	for attempt, want := range expected {
		got := backoffDelay(attempt, cfg)
		if got != want {
			t.Errorf("Attempt %d: expected %v, got %v", attempt, want, got)
		}
	}

	t.Log("✓ Backoff doubles per attempt and caps at MaxDelay")
}

// TestBackoffJitterBounds verifies jitter stays within the configured band
func TestBackoffJitterBounds(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	}

	for i := 0; i < 100; i++ {
		d := backoffDelay(0, cfg)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("Jittered delay %v outside [80ms, 120ms]", d)
		}
	}

	t.Log("✓ Jitter stays within ±20%")
}

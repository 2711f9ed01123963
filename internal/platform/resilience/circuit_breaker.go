package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	// StateClosed admits every call
	StateClosed State = iota
	// StateOpen rejects every call
	StateOpen
	// StateHalfOpen admits probe calls to test recovery
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening (default 5)
	SuccessThreshold int           // Probe successes before closing (default 2)
	Timeout          time.Duration // Open duration before probes are admitted (default 60s)
	OnStateChange    func(from, to State)
}

func (cfg CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return cfg
}

// CircuitBreaker guards a downstream dependency. After FailureThreshold
// consecutive failures it opens and rejects calls outright; once Timeout
// passes it admits probe calls, closing again after SuccessThreshold of
// them succeed.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.RWMutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults()}
}

// Execute runs fn through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.observe(err)
	return err
}

// admit gates a call on the current state, moving an expired open breaker
// to half-open.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) <= cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.transitionLocked(StateHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) observe(err error) {
	// Context cancellations say nothing about downstream health.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailureLocked()
	} else {
		cb.recordSuccessLocked()
	}
}

func (cb *CircuitBreaker) recordFailureLocked() {
	cb.failures++
	cb.successes = 0

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe reopens immediately
		cb.transitionLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccessLocked() {
	cb.successes++

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.failures = 0
			cb.transitionLocked(StateClosed)
		}
	}
}

// transitionLocked moves to a new state and fires the callback (caller
// must hold the lock). Same-state transitions are dropped.
func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	if to == StateOpen {
		cb.openedAt = time.Now()
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset force-closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successes = 0
	cb.transitionLocked(StateClosed)
}

// ForceOpen trips the breaker regardless of failure history.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionLocked(StateOpen)
}

// Stats returns the state and counters as one consistent snapshot.
func (cb *CircuitBreaker) Stats() (state State, failures, successes int) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state, cb.failures, cb.successes
}

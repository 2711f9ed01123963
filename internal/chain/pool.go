// Package chain provides the RPC access layer: a weighted round-robin pool
// of rate-limited endpoints with background health checks, and a read/write
// facade over the contract calls the engine needs.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
	"github.com/Web3ok/bsc-sub000/internal/platform/resilience"
)

// Endpoint represents a single RPC endpoint with its own rate limiter.
// Public BSC endpoints rarely document their real limits, so the limiter
// adapts from observed throttling instead of trusting configuration.
type Endpoint struct {
	URL    string
	Weight int

	mu      sync.RWMutex // guards Client across health-check reconnects
	Client  *ethclient.Client
	healthy atomic.Bool
	limiter *resilience.AdaptiveLimiter
}

// client returns the current connection, nil while disconnected
func (e *Endpoint) client() *ethclient.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Client
}

// Pool manages multiple RPC endpoints with weighted round-robin selection,
// per-endpoint token-bucket rate limiting, and health tracking with failover
type Pool struct {
	endpoints []*Endpoint
	current   int
	credits   int // picks left for endpoints[current]; a zero weight counts as one
	mu        sync.RWMutex

	logger              *observability.Logger
	metrics             *observability.Metrics
	healthCheckInterval time.Duration
	cancel              context.CancelFunc
}

// EndpointConfig represents endpoint configuration
type EndpointConfig struct {
	URL    string
	Weight int
}

// PoolConfig holds RPC pool configuration
type PoolConfig struct {
	Endpoints           []EndpointConfig
	RequestsPerSecond   float64
	Burst               int
	HealthCheckInterval time.Duration
	Logger              *observability.Logger
	Metrics             *observability.Metrics
}

// NewPool creates an RPC pool and starts background health checks. At least
// one endpoint must connect at startup.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}

	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}

	endpoints := make([]*Endpoint, 0, len(cfg.Endpoints))

	for _, epCfg := range cfg.Endpoints {
		endpoint := &Endpoint{
			URL:     epCfg.URL,
			Weight:  epCfg.Weight,
			limiter: newEndpointLimiter(cfg.RequestsPerSecond, cfg.Burst),
		}

		client, err := ethclient.Dial(epCfg.URL)
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.LogError(context.Background(), "failed to connect to RPC endpoint", err,
					"url", epCfg.URL,
				)
			}
			// Keep the endpoint; health checks will retry the dial
			endpoint.healthy.Store(false)
			endpoints = append(endpoints, endpoint)
			continue
		}

		endpoint.Client = client
		endpoint.healthy.Store(true)
		endpoints = append(endpoints, endpoint)

		if cfg.Logger != nil {
			cfg.Logger.Info("connected to RPC endpoint",
				"url", epCfg.URL,
				"weight", epCfg.Weight,
			)
		}
	}

	hasHealthy := false
	for _, ep := range endpoints {
		if ep.healthy.Load() {
			hasHealthy = true
			break
		}
	}
	if !hasHealthy {
		return nil, fmt.Errorf("no healthy RPC endpoints available")
	}

	pool := &Pool{
		endpoints:           endpoints,
		current:             0,
		credits:             weightOf(endpoints[0]),
		logger:              cfg.Logger,
		metrics:             cfg.Metrics,
		healthCheckInterval: cfg.HealthCheckInterval,
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.cancel = cancel
	go pool.startHealthChecks(ctx)

	return pool, nil
}

// newEndpointLimiter treats the configured rate as a ceiling: throttling
// responses cut the effective rate and sustained success restores it, down
// to a tenth of the configured rate at worst.
func newEndpointLimiter(rps float64, burst int) *resilience.AdaptiveLimiter {
	return resilience.NewAdaptiveLimiter(resilience.AdaptiveLimiterConfig{
		BaseRate: rps,
		MinRate:  rps / 10,
		MaxRate:  rps,
		Burst:    burst,
	})
}

// Acquire returns a healthy client after waiting on its endpoint's rate
// limiter. The URL identifies the endpoint so callers can report failures
// via MarkUnhealthy.
func (p *Pool) Acquire(ctx context.Context) (*ethclient.Client, string, error) {
	ep, err := p.next()
	if err != nil {
		return nil, "", err
	}

	if err := ep.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("rate limit wait for %s: %w", ep.URL, err)
	}

	client := ep.client()
	if client == nil {
		// Health checker dropped the connection between selection and use
		return nil, "", fmt.Errorf("endpoint %s lost its connection", ep.URL)
	}

	return client, ep.URL, nil
}

// next picks the next healthy endpoint by weighted round-robin: an endpoint
// with weight W serves W consecutive picks before the rotation advances
func (p *Pool) next() (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.credits <= 0 {
		p.advance()
	}

	for scanned := 0; scanned < len(p.endpoints); scanned++ {
		ep := p.endpoints[p.current]
		if ep.healthy.Load() && ep.client() != nil {
			p.credits--
			return ep, nil
		}
		p.advance()
	}

	return nil, fmt.Errorf("no healthy RPC endpoints available")
}

// advance moves the rotation to the next endpoint (caller must hold lock)
func (p *Pool) advance() {
	p.current = (p.current + 1) % len(p.endpoints)
	p.credits = weightOf(p.endpoints[p.current])
}

func weightOf(ep *Endpoint) int {
	if ep.Weight < 1 {
		return 1
	}
	return ep.Weight
}

// MarkUnhealthy marks an endpoint as unhealthy until a health check restores it
func (p *Pool) MarkUnhealthy(url string) {
	endpoint := p.endpointByURL(url)
	if endpoint == nil {
		return
	}

	wasHealthy := endpoint.healthy.Swap(false)
	if wasHealthy {
		if p.logger != nil {
			p.logger.Warn("marking RPC endpoint as unhealthy",
				"url", url,
			)
		}
		if p.metrics != nil {
			p.metrics.RecordRPCEndpointHealth(context.Background(), url, false)
		}
	}
}

// Observe feeds one call outcome into the endpoint's limiter so the request
// rate tracks what the endpoint actually tolerates. Context cancellations
// say nothing about the endpoint and are ignored.
func (p *Pool) Observe(url string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	endpoint := p.endpointByURL(url)
	if endpoint == nil || endpoint.limiter == nil {
		return
	}

	switch {
	case err == nil:
		endpoint.limiter.RecordSuccess()
	case resilience.IsRateLimited(err):
		before := endpoint.limiter.CurrentRate()
		endpoint.limiter.RecordRateLimitError()
		if after := endpoint.limiter.CurrentRate(); after < before && p.logger != nil {
			p.logger.Warn("RPC endpoint throttling, reducing request rate",
				"url", url,
				"rate", after,
			)
		}
	case !resilience.IsRetryable(err):
		// The endpoint answered; the call itself failed (revert, bad input)
		endpoint.limiter.RecordSuccess()
	default:
		endpoint.limiter.RecordError()
	}
}

func (p *Pool) endpointByURL(url string) *Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, endpoint := range p.endpoints {
		if endpoint.URL == url {
			return endpoint
		}
	}
	return nil
}

// startHealthChecks runs periodic health checks on all endpoints
func (p *Pool) startHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAllEndpoints(ctx)
		}
	}
}

// checkAllEndpoints checks health of all endpoints concurrently
func (p *Pool) checkAllEndpoints(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	p.mu.RLock()
	endpoints := p.endpoints
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			p.checkEndpoint(checkCtx, ep)
		}(endpoint)
	}
	wg.Wait()
}

// checkEndpoint probes an endpoint by fetching the latest block number,
// reconnecting dropped clients first
func (p *Pool) checkEndpoint(ctx context.Context, endpoint *Endpoint) {
	client := endpoint.client()

	if client == nil {
		fresh, err := ethclient.Dial(endpoint.URL)
		if err != nil {
			endpoint.healthy.Store(false)
			if p.metrics != nil {
				p.metrics.RecordRPCEndpointHealth(ctx, endpoint.URL, false)
			}
			return
		}

		endpoint.mu.Lock()
		endpoint.Client = fresh
		endpoint.mu.Unlock()
		client = fresh

		if p.logger != nil {
			p.logger.Info("reconnected to RPC endpoint", "url", endpoint.URL)
		}
	}

	_, err := client.BlockNumber(ctx)
	if err != nil {
		// A cancelled probe says nothing about the endpoint
		if ctx.Err() != nil {
			return
		}

		wasHealthy := endpoint.healthy.Swap(false)
		if wasHealthy && p.logger != nil {
			p.logger.LogError(ctx, "RPC endpoint health check failed", err,
				"url", endpoint.URL,
			)
		}
		if p.metrics != nil {
			p.metrics.RecordRPCEndpointHealth(ctx, endpoint.URL, false)
		}

		// Drop the connection for persistent errors so the next probe
		// re-dials; throttling is transient and keeps the client
		if !resilience.IsRateLimited(err) {
			endpoint.mu.Lock()
			if endpoint.Client != nil {
				endpoint.Client.Close()
				endpoint.Client = nil
			}
			endpoint.mu.Unlock()
		}
		return
	}

	wasUnhealthy := !endpoint.healthy.Swap(true)
	if wasUnhealthy && p.logger != nil {
		p.logger.Info("RPC endpoint is now healthy",
			"url", endpoint.URL,
		)
	}
	if p.metrics != nil {
		p.metrics.RecordRPCEndpointHealth(ctx, endpoint.URL, true)
	}
}

// HealthyCount returns the number of healthy endpoints
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, endpoint := range p.endpoints {
		if endpoint.healthy.Load() {
			count++
		}
	}
	return count
}

// EndpointStatus is one endpoint's state for the readiness surface.
type EndpointStatus struct {
	Healthy   bool    `json:"healthy"`
	Throttled bool    `json:"throttled"`
	Rate      float64 `json:"rate"`
}

// Status returns the state of every endpoint keyed by URL
func (p *Pool) Status() map[string]EndpointStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := make(map[string]EndpointStatus, len(p.endpoints))
	for _, endpoint := range p.endpoints {
		st := EndpointStatus{Healthy: endpoint.healthy.Load()}
		if endpoint.limiter != nil {
			st.Throttled = endpoint.limiter.IsThrottled()
			st.Rate = endpoint.limiter.CurrentRate()
		}
		status[endpoint.URL] = st
	}
	return status
}

// Close stops health checks and closes all client connections
func (p *Pool) Close() {
	if p.cancel != nil {
		p.cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, endpoint := range p.endpoints {
		endpoint.mu.Lock()
		if endpoint.Client != nil {
			endpoint.Client.Close()
			endpoint.Client = nil
		}
		endpoint.mu.Unlock()
	}

	if p.logger != nil {
		p.logger.Info("closed all RPC client connections")
	}
}

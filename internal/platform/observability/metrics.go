package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Metrics holds the engine's metric instruments. All instruments are created
// through the Meter interface so the same struct works against Prometheus,
// OTLP, or the noop provider in tests.
type Metrics struct {
	// Quote and routing metrics
	QuotesComputed  Counter
	QuoteDuration   Histogram
	RoutesResolved  Counter
	RouteDuration   Histogram
	FeeTierSelected Counter

	// Nonce sequencing metrics
	NonceLeases   Counter
	NonceReleases Counter
	NonceHoles    Counter

	// Operation execution metrics
	OperationTransitions Counter
	OperationDuration    Histogram
	OperationsInFlight   Gauge
	TxBroadcasts         Counter
	ConfirmationWait     Histogram

	// Batch metrics
	BatchesSubmitted Counter
	BatchesFinished  Counter
	BatchDuration    Histogram

	// Chain access metrics
	RPCCalls          Counter
	RPCDuration       Histogram
	RPCEndpointHealth Gauge
	GasPriceGwei      Gauge

	// Event publishing metrics
	EventsPublished Counter

	// Cache metrics
	CacheHits   Counter
	CacheMisses Counter

	// Circuit breaker metrics
	CircuitBreakerState Gauge

	// Error metrics
	Errors Counter
}

// NewMetrics creates the engine instrument set on the given meter.
// Pass NewNoopMeterProvider().Meter("engine") to disable collection.
func NewMetrics(meter Meter) *Metrics {
	return &Metrics{
		QuotesComputed: meter.Counter(
			"engine.quotes.computed",
			"Total venue quotes computed",
		),
		QuoteDuration: meter.Histogram(
			"engine.quote.duration",
			"Venue quote duration in milliseconds",
		),
		RoutesResolved: meter.Counter(
			"engine.routes.resolved",
			"Total route resolutions by path shape and status",
		),
		RouteDuration: meter.Histogram(
			"engine.route.duration",
			"Route resolution duration in milliseconds",
		),
		FeeTierSelected: meter.Counter(
			"engine.fee_tier.selected",
			"Fee tier selected for best execution price",
		),
		NonceLeases: meter.Counter(
			"engine.nonce.leases",
			"Total nonce leases issued",
		),
		NonceReleases: meter.Counter(
			"engine.nonce.releases",
			"Total nonce lease releases by outcome",
		),
		NonceHoles: meter.Counter(
			"engine.nonce.holes",
			"Abandoned leases that left a sequence hole needing reconciliation",
		),
		OperationTransitions: meter.Counter(
			"engine.operation.transitions",
			"Operation state transitions",
		),
		OperationDuration: meter.Histogram(
			"engine.operation.duration",
			"Operation duration from start to terminal state in milliseconds",
		),
		OperationsInFlight: meter.Gauge(
			"engine.operations.inflight",
			"Operations currently being executed",
		),
		TxBroadcasts: meter.Counter(
			"engine.tx.broadcasts",
			"Total transaction broadcasts by status",
		),
		ConfirmationWait: meter.Histogram(
			"engine.tx.confirmation_wait",
			"Time from broadcast to receipt in milliseconds",
		),
		BatchesSubmitted: meter.Counter(
			"engine.batches.submitted",
			"Total batches accepted for execution",
		),
		BatchesFinished: meter.Counter(
			"engine.batches.finished",
			"Total batches reaching a terminal state",
		),
		BatchDuration: meter.Histogram(
			"engine.batch.duration",
			"Batch duration from start to terminal state in milliseconds",
		),
		RPCCalls: meter.Counter(
			"engine.rpc.calls",
			"Total RPC calls by method and status",
		),
		RPCDuration: meter.Histogram(
			"engine.rpc.duration",
			"RPC call duration in milliseconds",
		),
		RPCEndpointHealth: meter.Gauge(
			"engine.rpc.endpoint.health",
			"RPC endpoint health status (1=healthy, 0=unhealthy)",
		),
		GasPriceGwei: meter.Gauge(
			"engine.gas.price.gwei",
			"Last suggested gas price in gwei",
		),
		EventsPublished: meter.Counter(
			"engine.events.published",
			"Operation transition events published by sink and status",
		),
		CacheHits: meter.Counter(
			"engine.cache.hits",
			"Total cache hits",
		),
		CacheMisses: meter.Counter(
			"engine.cache.misses",
			"Total cache misses",
		),
		CircuitBreakerState: meter.Gauge(
			"engine.circuit_breaker.state",
			"Circuit breaker state (0=closed, 1=open, 2=half-open)",
		),
		Errors: meter.Counter(
			"engine.errors",
			"Total errors encountered by type",
		),
	}
}

// RecordQuote records one venue quote computation.
func (m *Metrics) RecordQuote(ctx context.Context, venueKind string, duration time.Duration, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("venue_kind", venueKind),
		attribute.Bool("success", success),
	}
	m.QuotesComputed.Inc(ctx, attrs...)
	m.QuoteDuration.Record(ctx, float64(duration.Milliseconds()), attrs...)
}

// RecordRouteResolution records a route resolution attempt.
// Path is "direct" or "two_hop"; empty when resolution failed.
func (m *Metrics) RecordRouteResolution(ctx context.Context, path string, duration time.Duration, success bool) {
	if path == "" {
		path = "none"
	}
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.Bool("success", success),
	}
	m.RoutesResolved.Inc(ctx, attrs...)
	m.RouteDuration.Record(ctx, float64(duration.Milliseconds()), attrs...)
}

// RecordFeeTierUsed records when a specific fee tier wins best execution.
func (m *Metrics) RecordFeeTierUsed(ctx context.Context, feeBps int64) {
	m.FeeTierSelected.Inc(ctx, attribute.Int64("fee_bps", feeBps))
}

// RecordNonceLease records a lease being issued for an account.
func (m *Metrics) RecordNonceLease(ctx context.Context, account string) {
	m.NonceLeases.Inc(ctx, attribute.String("account", account))
}

// RecordNonceRelease records a lease release with its outcome.
func (m *Metrics) RecordNonceRelease(ctx context.Context, account, outcome string) {
	m.NonceReleases.Inc(ctx,
		attribute.String("account", account),
		attribute.String("outcome", outcome),
	)
}

// RecordNonceHole records an abandoned lease that could not be rolled back.
func (m *Metrics) RecordNonceHole(ctx context.Context, account string) {
	m.NonceHoles.Inc(ctx, attribute.String("account", account))
}

// RecordOperationTransition records one operation state transition.
func (m *Metrics) RecordOperationTransition(ctx context.Context, from, to string) {
	m.OperationTransitions.Inc(ctx,
		attribute.String("from", from),
		attribute.String("to", to),
	)
}

// RecordOperationDone records an operation reaching a terminal state.
func (m *Metrics) RecordOperationDone(ctx context.Context, terminalState string, duration time.Duration) {
	m.OperationDuration.Record(ctx, float64(duration.Milliseconds()),
		attribute.String("state", terminalState),
	)
}

// SetOperationsInFlight sets the current number of executing operations.
func (m *Metrics) SetOperationsInFlight(ctx context.Context, n int64) {
	m.OperationsInFlight.Record(ctx, n)
}

// RecordBroadcast records a transaction broadcast attempt.
func (m *Metrics) RecordBroadcast(ctx context.Context, status string) {
	m.TxBroadcasts.Inc(ctx, attribute.String("status", status))
}

// RecordConfirmationWait records how long a receipt took to appear.
func (m *Metrics) RecordConfirmationWait(ctx context.Context, duration time.Duration, confirmed bool) {
	m.ConfirmationWait.Record(ctx, float64(duration.Milliseconds()),
		attribute.Bool("confirmed", confirmed),
	)
}

// RecordBatchSubmitted records a batch accepted by the engine.
func (m *Metrics) RecordBatchSubmitted(ctx context.Context, size int) {
	m.BatchesSubmitted.Inc(ctx, attribute.Int("size", size))
}

// RecordBatchFinished records a batch terminal state with its duration.
func (m *Metrics) RecordBatchFinished(ctx context.Context, terminalState string, duration time.Duration) {
	m.BatchesFinished.Inc(ctx, attribute.String("state", terminalState))
	m.BatchDuration.Record(ctx, float64(duration.Milliseconds()),
		attribute.String("state", terminalState),
	)
}

// RecordRPCCall records an RPC call against a chain endpoint.
func (m *Metrics) RecordRPCCall(ctx context.Context, method, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("status", status),
	}
	m.RPCCalls.Inc(ctx, attrs...)
	m.RPCDuration.Record(ctx, float64(duration.Milliseconds()), attrs...)
}

// RecordRPCEndpointHealth records RPC endpoint health status.
func (m *Metrics) RecordRPCEndpointHealth(ctx context.Context, url string, healthy bool) {
	val := int64(0)
	if healthy {
		val = 1
	}
	m.RPCEndpointHealth.Record(ctx, val, attribute.String("url", url))
}

// RecordGasPrice records the last suggested gas price.
func (m *Metrics) RecordGasPrice(ctx context.Context, gwei float64) {
	m.GasPriceGwei.Set(ctx, gwei)
}

// RecordEventPublished records an event publish attempt.
func (m *Metrics) RecordEventPublished(ctx context.Context, sink, status string) {
	m.EventsPublished.Inc(ctx,
		attribute.String("sink", sink),
		attribute.String("status", status),
	)
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context, layer string) {
	m.CacheHits.Inc(ctx, attribute.String("layer", layer))
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context, layer string) {
	m.CacheMisses.Inc(ctx, attribute.String("layer", layer))
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	m.CircuitBreakerState.Record(ctx, state, attribute.String("service", service))
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.Errors.Inc(ctx, attribute.String("type", errorType))
}

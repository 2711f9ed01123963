package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// MeterProvider hands out per-component meters and owns the exporter
// lifecycle. The engine's Metrics type sits on top of this.
type MeterProvider interface {
	Meter(name string) Meter
	Shutdown(ctx context.Context) error

	// Handler serves the Prometheus scrape endpoint when that exporter is
	// configured, 404 otherwise.
	Handler() http.Handler
}

// Meter creates the instruments for one component.
type Meter interface {
	Counter(name, description string) Counter
	Gauge(name, description string) Gauge
	Histogram(name, description string, buckets ...float64) Histogram
}

// Counter is a monotonically increasing value.
type Counter interface {
	Add(ctx context.Context, value int64, attrs ...attribute.KeyValue)
	Inc(ctx context.Context, attrs ...attribute.KeyValue)
}

// Gauge is a value that moves both ways.
type Gauge interface {
	Set(ctx context.Context, value float64, attrs ...attribute.KeyValue)
	Record(ctx context.Context, value int64, attrs ...attribute.KeyValue)
}

// Histogram records value distributions. Durations are recorded in
// milliseconds.
type Histogram interface {
	Record(ctx context.Context, value float64, attrs ...attribute.KeyValue)
	RecordDuration(ctx context.Context, start time.Time, attrs ...attribute.KeyValue)
}

// MetricProviderType selects a metric backend.
type MetricProviderType string

const (
	ProviderPrometheus MetricProviderType = "prometheus"
	ProviderOTLP       MetricProviderType = "otlp"
)

// MetricProviderConfig configures one metric backend. Endpoint, Headers and
// Insecure only apply to OTLP.
type MetricProviderConfig struct {
	Type     MetricProviderType
	Endpoint string
	Headers  map[string]string
	Insecure bool
}

// MeterProviderConfig configures the meter provider.
type MeterProviderConfig struct {
	ServiceName string
	Version     string
	Providers   []MetricProviderConfig
}

type sdkProvider struct {
	provider *sdkmetric.MeterProvider
	scrape   bool
}

// NewMeterProvider builds the configured exporters and registers the result
// as the global OTEL meter provider. With no backends configured it exports
// to Prometheus, so a bare config still has a scrape endpoint.
func NewMeterProvider(cfg MeterProviderConfig) (MeterProvider, error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	providers := cfg.Providers
	if len(providers) == 0 {
		providers = []MetricProviderConfig{{Type: ProviderPrometheus}}
	}

	var readers []sdkmetric.Reader
	scrape := false
	for _, pc := range providers {
		switch pc.Type {
		case ProviderPrometheus:
			exp, err := prometheus.New()
			if err != nil {
				return nil, fmt.Errorf("observability: prometheus exporter: %w", err)
			}
			readers = append(readers, exp)
			scrape = true

		case ProviderOTLP:
			reader, err := newOTLPReader(ctx, pc)
			if err != nil {
				return nil, err
			}
			readers = append(readers, reader)

		default:
			return nil, fmt.Errorf("observability: unknown metric provider %q", pc.Type)
		}
	}

	opts := make([]sdkmetric.Option, 0, len(readers)+1)
	opts = append(opts, sdkmetric.WithResource(res))
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	return &sdkProvider{provider: provider, scrape: scrape}, nil
}

func newOTLPReader(ctx context.Context, pc MetricProviderConfig) (sdkmetric.Reader, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpointURL(pc.Endpoint),
	}
	if len(pc.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(pc.Headers))
	}
	if pc.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: otlp exporter %s: %w", pc.Endpoint, err)
	}
	return sdkmetric.NewPeriodicReader(exp), nil
}

func (p *sdkProvider) Meter(name string) Meter {
	return &componentMeter{meter: p.provider.Meter(name)}
}

func (p *sdkProvider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

func (p *sdkProvider) Handler() http.Handler {
	if p.scrape {
		return promhttp.Handler()
	}
	return notConfiguredHandler()
}

func notConfiguredHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "metrics not configured", http.StatusNotFound)
	})
}

type componentMeter struct {
	meter metric.Meter
}

// Instrument constructors fall back to noops on error; a misnamed metric
// must not take the engine down.

func (m *componentMeter) Counter(name, description string) Counter {
	c, err := m.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noopCounter{}
	}
	return counter{c}
}

func (m *componentMeter) Gauge(name, description string) Gauge {
	g, err := m.meter.Float64Gauge(name, metric.WithDescription(description))
	if err != nil {
		return noopGauge{}
	}
	return gauge{g}
}

func (m *componentMeter) Histogram(name, description string, buckets ...float64) Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(description)}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}

	h, err := m.meter.Float64Histogram(name, opts...)
	if err != nil {
		return noopHistogram{}
	}
	return histogram{h}
}

type counter struct {
	c metric.Int64Counter
}

func (c counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.c.Add(ctx, value, metric.WithAttributes(attrs...))
}

func (c counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

type gauge struct {
	g metric.Float64Gauge
}

func (g gauge) Set(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	g.g.Record(ctx, value, metric.WithAttributes(attrs...))
}

func (g gauge) Record(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	g.g.Record(ctx, float64(value), metric.WithAttributes(attrs...))
}

type histogram struct {
	h metric.Float64Histogram
}

func (h histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	h.h.Record(ctx, value, metric.WithAttributes(attrs...))
}

func (h histogram) RecordDuration(ctx context.Context, start time.Time, attrs ...attribute.KeyValue) {
	h.h.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
}

// NewNoopMeterProvider returns a provider that records nothing. Used when
// metrics are disabled and in tests.
func NewNoopMeterProvider() MeterProvider {
	return noopProvider{}
}

type noopProvider struct{}

func (noopProvider) Meter(string) Meter             { return noopMeter{} }
func (noopProvider) Shutdown(context.Context) error { return nil }
func (noopProvider) Handler() http.Handler          { return notConfiguredHandler() }

type noopMeter struct{}

func (noopMeter) Counter(string, string) Counter                 { return noopCounter{} }
func (noopMeter) Gauge(string, string) Gauge                     { return noopGauge{} }
func (noopMeter) Histogram(string, string, ...float64) Histogram { return noopHistogram{} }

type noopCounter struct{}

func (noopCounter) Add(context.Context, int64, ...attribute.KeyValue) {}
func (noopCounter) Inc(context.Context, ...attribute.KeyValue)        {}

type noopGauge struct{}

func (noopGauge) Set(context.Context, float64, ...attribute.KeyValue)  {}
func (noopGauge) Record(context.Context, int64, ...attribute.KeyValue) {}

type noopHistogram struct{}

func (noopHistogram) Record(context.Context, float64, ...attribute.KeyValue)           {}
func (noopHistogram) RecordDuration(context.Context, time.Time, ...attribute.KeyValue) {}

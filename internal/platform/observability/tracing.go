package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const traceShutdownTimeout = 5 * time.Second

// TracerProviderConfig configures span export.
type TracerProviderConfig struct {
	ServiceName string
	Version     string
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string
	Enabled  bool
}

// TracerProvider owns the span pipeline. Constructing an enabled provider
// registers it globally, which is what routes spans from NewTracer tracers
// to the collector.
type TracerProvider struct {
	sdk *sdktrace.TracerProvider
}

// NewTracerProvider sets up OTLP span export. When disabled it leaves the
// global noop provider in place, so spans cost nothing.
func NewTracerProvider(ctx context.Context, cfg TracerProviderConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: trace resource: %w", err)
	}

	exporter, err := newSpanExporter(ctx, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &TracerProvider{sdk: provider}, nil
}

func newSpanExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("observability: otlp grpc dial %s: %w", endpoint, err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("observability: otlp trace exporter: %w", err)
	}
	return exporter, nil
}

// Shutdown flushes buffered spans. Safe to call on a disabled provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.sdk == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, traceShutdownTimeout)
	defer cancel()

	return tp.sdk.Shutdown(ctx)
}

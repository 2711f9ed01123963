// Package observability provides the engine's structured logging, metrics,
// and tracing on top of slog and OpenTelemetry.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanStatus is the outcome recorded on a finished span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// Tracer starts spans for the engine's hot paths. Call sites depend on this
// facade rather than the OTel API directly so components built without
// tracing can take a noop.
type Tracer interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
}

// Span is the slice of the OTel span surface the engine uses.
type Span interface {
	// End completes the span.
	End()

	// SetStatus records the span outcome.
	SetStatus(status SpanStatus, description string)

	// SetAttributes attaches attributes to the span.
	SetAttributes(attrs ...attribute.KeyValue)

	// NoticeError records err on the span and marks it failed.
	// Nil errors are ignored.
	NoticeError(err error)
}

// SpanOption customizes a span at start time.
type SpanOption func(*spanSettings)

type spanSettings struct {
	attrs []attribute.KeyValue
}

// WithAttributes attaches attributes to the span at creation.
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(s *spanSettings) {
		s.attrs = append(s.attrs, attrs...)
	}
}

// NewTracer returns a Tracer backed by the globally registered OTel
// provider. Export happens only once NewTracerProvider has run; before
// that, spans are recorded against the default noop provider.
func NewTracer(name string) Tracer {
	return otelTracer{inner: otel.Tracer(name)}
}

type otelTracer struct {
	inner trace.Tracer
}

func (t otelTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	var settings spanSettings
	for _, opt := range opts {
		opt(&settings)
	}

	var startOpts []trace.SpanStartOption
	if len(settings.attrs) > 0 {
		startOpts = append(startOpts, trace.WithAttributes(settings.attrs...))
	}

	ctx, inner := t.inner.Start(ctx, name, startOpts...)
	return ctx, otelSpan{inner: inner}
}

type otelSpan struct {
	inner trace.Span
}

func (s otelSpan) End() {
	s.inner.End()
}

func (s otelSpan) SetStatus(status SpanStatus, description string) {
	code := codes.Unset
	switch status {
	case SpanStatusOK:
		code = codes.Ok
	case SpanStatusError:
		code = codes.Error
	}
	s.inner.SetStatus(code, description)
}

func (s otelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.inner.SetAttributes(attrs...)
}

func (s otelSpan) NoticeError(err error) {
	if err == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

// NewNoopTracer returns a Tracer whose spans record nothing.
func NewNoopTracer() Tracer {
	return noopTracer{}
}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End()                                {}
func (noopSpan) SetStatus(SpanStatus, string)        {}
func (noopSpan) SetAttributes(...attribute.KeyValue) {}
func (noopSpan) NoticeError(error)                   {}

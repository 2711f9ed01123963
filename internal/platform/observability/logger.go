package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Logger is slog with trace correlation: the Log* helpers stamp records with
// the active span's trace and span IDs so engine logs join up with traces.
type Logger struct {
	*slog.Logger
}

// NewLogger builds a logger writing to stdout. Level is one of debug, info,
// warn, error; format is json or text. Unknown values fall back to info and
// json, which is what production runs anyway.
func NewLogger(level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Named returns a logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.With(slog.String("component", component))}
}

// WithTrace returns a logger carrying the trace and span IDs from ctx, or
// the plain logger when no span is recording.
func (l *Logger) WithTrace(ctx context.Context) *slog.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return l.Logger
	}

	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// WithFields returns a logger with the given fields attached.
func (l *Logger) WithFields(fields ...any) *slog.Logger {
	return l.With(fields...)
}

// WithContext is an alias for WithTrace.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	return l.WithTrace(ctx)
}

// LogError logs msg at error level with err and the trace IDs from ctx.
func (l *Logger) LogError(ctx context.Context, msg string, err error, fields ...any) {
	l.WithTrace(ctx).Error(msg, append(fields, slog.Any("error", err))...)
}

// LogInfo logs msg at info level with the trace IDs from ctx.
func (l *Logger) LogInfo(ctx context.Context, msg string, fields ...any) {
	l.WithTrace(ctx).Info(msg, fields...)
}

// LogDebug logs msg at debug level with the trace IDs from ctx.
func (l *Logger) LogDebug(ctx context.Context, msg string, fields ...any) {
	l.WithTrace(ctx).Debug(msg, fields...)
}

// LogWarn logs msg at warn level with the trace IDs from ctx.
func (l *Logger) LogWarn(ctx context.Context, msg string, fields ...any) {
	l.WithTrace(ctx).Warn(msg, fields...)
}

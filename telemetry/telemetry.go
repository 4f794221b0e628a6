// Package telemetry defines the engine-scoped logging, metrics, and tracing
// surfaces used throughout the runtime core. No core invariant depends on
// telemetry calls succeeding or even firing; components accept these
// interfaces purely as optional observability hooks injected at construction.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, leveled log messages keyed by free-form
	// key-value pairs. Implementations must tolerate an odd-length keyvals
	// slice (the trailing key is paired with a nil value).
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)

		// WithContext returns a sub-logger that merges the given key-value
		// pairs into every subsequent call. Implementations that do not
		// support binding may return the receiver unchanged.
		WithContext(keyvals ...any) Logger
	}

	// Metrics records counters, timers, and gauges. Tag arguments follow the
	// same k1, v1, k2, v2 convention as Logger's keyvals.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts and retrieves spans for request-scoped tracing.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is the subset of an OpenTelemetry span the core needs.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

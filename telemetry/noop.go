package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// NoopLogger discards every log message. It is the default Logger when
	// none is supplied at construction.
	NoopLogger struct{}

	// NoopMetrics discards every metric. It is the default Metrics when none
	// is supplied at construction.
	NoopMetrics struct{}

	// NoopTracer creates spans that do nothing. It is the default Tracer
	// when none is supplied at construction.
	NoopTracer struct{}

	noopSpan struct{}
)

// NewNoopLogger constructs a Logger that discards all log messages.
func NewNoopLogger() Logger { return NoopLogger{} }

// NewNoopMetrics constructs a Metrics recorder that discards all metrics.
func NewNoopMetrics() Metrics { return NoopMetrics{} }

// NewNoopTracer constructs a Tracer that creates no-op spans.
func NewNoopTracer() Tracer { return NoopTracer{} }

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Warn(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}

// WithContext returns the receiver unchanged; NoopLogger has no state to bind.
func (l NoopLogger) WithContext(...any) Logger { return l }

func (NoopMetrics) IncCounter(string, float64, ...string)          {}
func (NoopMetrics) RecordTimer(string, time.Duration, ...string)   {}
func (NoopMetrics) RecordGauge(string, float64, ...string)         {}

func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (NoopTracer) Span(context.Context) Span { return noopSpan{} }

func (noopSpan) End(...trace.SpanEndOption)          {}
func (noopSpan) AddEvent(string, ...any)              {}
func (noopSpan) SetStatus(codes.Code, string)         {}
func (noopSpan) RecordError(error, ...trace.EventOption) {}

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// ClueLogger delegates to goa.design/clue/log for structured logging.
	// It reads formatting and debug settings from the context, set up via
	// log.Context/log.WithFormat/log.WithDebug by the caller.
	ClueLogger struct {
		bound []log.Fielder
	}

	// ClueMetrics delegates to OpenTelemetry metrics.
	ClueMetrics struct {
		meter metric.Meter
	}

	// ClueTracer delegates to OpenTelemetry tracing.
	ClueTracer struct {
		tracer trace.Tracer
	}

	clueSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log.
func NewClueLogger() Logger {
	return ClueLogger{}
}

// NewClueMetrics constructs a Metrics recorder backed by the global OTEL
// MeterProvider. Configure the provider before invoking engine methods.
func NewClueMetrics() Metrics {
	return &ClueMetrics{meter: otel.Meter("github.com/goadesign/agentcore")}
}

// NewClueTracer constructs a Tracer backed by the global OTEL TracerProvider.
func NewClueTracer() Tracer {
	return &ClueTracer{tracer: otel.Tracer("github.com/goadesign/agentcore")}
}

func (l ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, l.fielders(msg, keyvals)...)
}

func (l ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, l.fielders(msg, keyvals)...)
}

func (l ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fielders := l.fielders(msg, keyvals)
	fielders = append(fielders, log.KV{K: "severity", V: "warning"})
	log.Warn(ctx, fielders...)
}

func (l ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, l.fielders(msg, keyvals)...)
}

// WithContext returns a ClueLogger that merges keyvals into every subsequent
// call, mirroring the spec's Logger.withContext sub-logger contract.
func (l ClueLogger) WithContext(keyvals ...any) Logger {
	return ClueLogger{bound: append(append([]log.Fielder{}, l.bound...), kvToFielders(keyvals)...)}
}

func (l ClueLogger) fielders(msg string, keyvals []any) []log.Fielder {
	out := make([]log.Fielder, 0, len(l.bound)+len(keyvals)/2+1)
	out = append(out, log.KV{K: "msg", V: msg})
	out = append(out, l.bound...)
	out = append(out, kvToFielders(keyvals)...)
	return out
}

func kvToFielders(keyvals []any) []log.Fielder {
	var fielders []log.Fielder
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fielders = append(fielders, log.KV{K: k, V: v})
	}
	return fielders
}

func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *ClueMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), d.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &clueSpan{span: span}
}

func (t *ClueTracer) Span(ctx context.Context) Span {
	return &clueSpan{span: trace.SpanFromContext(ctx)}
}

func (s *clueSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *clueSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *clueSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(tags[i], v))
	}
	return attrs
}

func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		k, _ := keyvals[i].(string)
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, ""))
		}
	}
	return attrs
}

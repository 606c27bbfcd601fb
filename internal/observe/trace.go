package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/parley"

// StartSpan starts a span on the global tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// CorrelationID is the trace id of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// TraceLogger returns l tagged with the trace and span ids found in ctx, so
// one server reply can be followed across provider calls. l is returned
// unchanged when ctx carries no span. A nil l means [slog.Default].
func TraceLogger(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	id := CorrelationID(ctx)
	if id == "" {
		return l
	}
	return l.With("trace_id", id, "span_id", trace.SpanContextFromContext(ctx).SpanID().String())
}

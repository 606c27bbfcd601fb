package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestStartSpan(t *testing.T) {
	exp := recordSpans(t)

	ctx, span := StartSpan(context.Background(), "responder.reply")
	id := CorrelationID(ctx)
	span.End()

	if len(id) != 32 {
		t.Errorf("CorrelationID = %q, want 32 hex chars", id)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "responder.reply" {
		t.Fatalf("spans = %+v", spans)
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
	if spans[0].SpanContext.TraceID().String() != id {
		t.Error("CorrelationID does not match the recorded trace")
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestTraceLogger(t *testing.T) {
	recordSpans(t)

	tests := []struct {
		name     string
		withSpan bool
		want     []string
		absent   []string
	}{
		{name: "span", withSpan: true, want: []string{"trace_id=", "span_id=", "msg=replied"}},
		{name: "no span", want: []string{"msg=replied"}, absent: []string{"trace_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			base := slog.New(slog.NewTextHandler(&buf, nil))
			ctx := context.Background()
			if tt.withSpan {
				c, s := StartSpan(ctx, "test")
				defer s.End()
				ctx = c
			}
			TraceLogger(ctx, base).Info("replied")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(out, a) {
					t.Errorf("log %q contains %q", out, a)
				}
			}
		})
	}
}

func TestTraceLogger_NilUsesDefault(t *testing.T) {
	if TraceLogger(context.Background(), nil) != slog.Default() {
		t.Error("nil logger should fall back to slog.Default")
	}
}

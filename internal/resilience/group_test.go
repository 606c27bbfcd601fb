package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/parley/internal/observe"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// echo returns the member name unless it is listed in down.
func echo(down ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, d := range down {
			if d == name {
				return "", fmt.Errorf("%s: %w", name, errDown)
			}
		}
		return name, nil
	}
}

func newTestGroup(names ...string) *Group[string] {
	g := NewGroup(names[0], names[0], GroupConfig{Breaker: BreakerConfig{Failures: 1}})
	for _, n := range names[1:] {
		g.AddFallback(n, n)
	}
	return g
}

func TestCall(t *testing.T) {
	tests := []struct {
		name    string
		down    []string
		want    string
		wantErr error
	}{
		{name: "primary answers", want: "groq"},
		{name: "falls back in order", down: []string{"groq"}, want: "openai"},
		{name: "last resort", down: []string{"groq", "openai"}, want: "ollama"},
		{name: "all down", down: []string{"groq", "openai", "ollama"}, wantErr: ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGroup("groq", "openai", "ollama")
			got, err := Call(g, echo(tt.down...))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, errDown) {
					t.Fatalf("err = %v, want %v wrapping the last failure", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("Call = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestCall_SkipsOpenMember(t *testing.T) {
	g := newTestGroup("groq", "openai")
	_, _ = Call(g, echo("groq"))

	var tried []string
	got, err := Call(g, func(name string) (string, error) {
		tried = append(tried, name)
		return name, nil
	})
	if err != nil || got != "openai" {
		t.Fatalf("Call = %q, %v", got, err)
	}
	if len(tried) != 1 {
		t.Errorf("tried %v, want only openai", tried)
	}
}

func TestCall_CancellationStops(t *testing.T) {
	g := newTestGroup("groq", "openai")
	var tried int
	_, err := Call(g, func(string) (string, error) {
		tried++
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare cancellation", err)
	}
	if tried != 1 {
		t.Errorf("tried %d members, want 1", tried)
	}
	if st := g.Status(); st[0].State != StateClosed {
		t.Errorf("primary breaker = %v, want closed", st[0].State)
	}
}

func TestGroup_StatusAndHealthy(t *testing.T) {
	g := newTestGroup("groq", "openai")
	if g.Primary() != "groq" {
		t.Errorf("Primary() = %q", g.Primary())
	}
	if err := g.Healthy(context.Background()); err != nil {
		t.Fatalf("Healthy() = %v", err)
	}

	_, _ = Call(g, echo("groq", "openai"))

	st := g.Status()
	if len(st) != 2 {
		t.Fatalf("Status() = %+v", st)
	}
	for i, name := range []string{"groq", "openai"} {
		if st[i].Name != name || st[i].State != StateOpen {
			t.Errorf("Status()[%d] = %+v, want %s open", i, st[i], name)
		}
	}
	if err := g.Healthy(context.Background()); !errors.Is(err, ErrAllFailed) {
		t.Errorf("Healthy() = %v, want ErrAllFailed", err)
	}
}

func TestGroup_RecordsProviderMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	g := NewGroup("groq", "groq", GroupConfig{Kind: "llm", Metrics: m})
	g.AddFallback("openai", "openai")
	if _, err := Call(g, echo("groq")); err != nil {
		t.Fatalf("Call: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					counts[met.Name] += dp.Value
				}
			}
		}
	}
	if counts["parley.provider.requests"] != 2 || counts["parley.provider.errors"] != 1 {
		t.Errorf("counts = %v, want 2 requests and 1 error", counts)
	}
}

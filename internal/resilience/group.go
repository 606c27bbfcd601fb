package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/internal/observe"
)

// ErrAllFailed wraps the last member error once no member could serve a call.
var ErrAllFailed = errors.New("resilience: all providers failed")

// GroupConfig configures a [Group].
type GroupConfig struct {
	// Breaker is applied to every member.
	Breaker BreakerConfig

	// Kind labels provider metrics ("llm", "stt", "tts"). Empty records
	// nothing.
	Kind string

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Member is a point-in-time view of one provider in a group.
type Member struct {
	Name  string
	State State
}

type member[T any] struct {
	name     string
	provider T
	breaker  *Breaker
}

// Group holds a primary provider and its fallbacks, each behind a breaker.
// Add every fallback before sharing the group between goroutines.
type Group[T any] struct {
	cfg     GroupConfig
	members []member[T]
}

// NewGroup returns a group whose first member is primary.
func NewGroup[T any](name string, primary T, cfg GroupConfig) *Group[T] {
	if cfg.Kind != "" && cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	g := &Group[T]{cfg: cfg}
	g.AddFallback(name, primary)
	return g
}

// AddFallback appends a provider tried after every earlier member.
func (g *Group[T]) AddFallback(name string, provider T) {
	g.members = append(g.members, member[T]{
		name:     name,
		provider: provider,
		breaker:  NewBreaker(name, g.cfg.Breaker),
	})
}

// Primary returns the first member.
func (g *Group[T]) Primary() T { return g.members[0].provider }

// Status lists every member's breaker state in order.
func (g *Group[T]) Status() []Member {
	out := make([]Member, len(g.members))
	for i, m := range g.members {
		out[i] = Member{Name: m.name, State: m.breaker.State()}
	}
	return out
}

// Healthy is a readiness check: nil while some member accepts calls.
func (g *Group[T]) Healthy(context.Context) error {
	for _, m := range g.members {
		if m.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: every circuit is open", ErrAllFailed)
}

// Call runs fn against the members in order and returns the first success.
// A cancelled call ends the walk with the cancellation error.
func Call[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, m := range g.members {
		var out R
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(m.provider)
			return err
		})
		switch {
		case err == nil:
			g.record(m.name, "ok")
			return out, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: skipping open provider", "provider", m.name)
		default:
			g.record(m.name, "error")
			slog.Warn("resilience: provider failed", "provider", m.name, "kind", g.cfg.Kind, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (g *Group[T]) record(provider, status string) {
	if g.cfg.Kind == "" {
		return
	}
	ctx := context.Background()
	g.cfg.Metrics.RecordProviderRequest(ctx, provider, g.cfg.Kind, status)
	if status == "error" {
		g.cfg.Metrics.RecordProviderError(ctx, provider, g.cfg.Kind)
	}
}

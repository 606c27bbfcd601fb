// Package resilience keeps the speech and reply providers usable when one
// backend misbehaves.
//
// Each provider sits behind its own [Breaker]. A [Group] walks its members
// in registration order and skips the ones whose breaker is open.
// [LLMFallback], [STTFallback] and [TTSFallback] present a group as a single
// provider.
//
// A call that ends because its context was cancelled (a barge-in, a closed
// socket) says nothing about the provider. It is neither counted against the
// breaker nor retried on the next member.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] without calling the function.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a breaker's mode.
type State int

const (
	// StateClosed passes every call.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets a few probe calls decide between closed and open.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults.
type BreakerConfig struct {
	// Failures in a row that open the breaker. Default 5.
	Failures int
	// Cooldown spent open before probing. Default 30s.
	Cooldown time.Duration
	// Probes that must succeed while half-open to close again. Default 1.
	Probes int
	// Now replaces time.Now in tests.
	Now func() time.Time
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Breaker is a three-state circuit breaker for one provider. It is safe for
// concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int // probes running while half-open
	passed   int // probes that succeeded while half-open
}

// NewBreaker returns a closed breaker labelled name.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Failures <= 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{name: name, cfg: cfg}
}

// Name returns the breaker's label.
func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the breaker rejects the call, and books its outcome.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.release(probe, err)
	return err
}

func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.inFlight, b.passed = 0, 0
		b.cfg.Logger.Info("resilience: probing provider", "provider", b.name)
	}
	if b.state == StateHalfOpen {
		if b.inFlight+b.passed >= b.cfg.Probes {
			return false, ErrCircuitOpen
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.inFlight--
	}
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		if probe || b.state == StateHalfOpen {
			b.trip("probe failed")
			return
		}
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.Failures {
			b.trip("too many failures")
		}
	case probe:
		b.passed++
		if b.passed >= b.cfg.Probes {
			b.state = StateClosed
			b.failures = 0
			b.cfg.Logger.Info("resilience: provider recovered", "provider", b.name)
		}
	default:
		b.failures = 0
	}
}

// trip opens the breaker. b.mu must be held.
func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.openedAt = b.cfg.Now()
	b.cfg.Logger.Warn("resilience: circuit opened",
		"provider", b.name, "reason", reason, "failures", b.failures)
}

// State reports the breaker's mode. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the switch itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and forgets past failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.inFlight, b.passed = 0, 0, 0
}

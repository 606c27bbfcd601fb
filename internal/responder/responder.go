// Package responder generates the reference server's replies: a phone-call
// persona driven by an LLM over a rolling per-connection history.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

const (
	// DefaultGreeting is sent when a connection opens.
	DefaultGreeting = "Hi there! How can I help you today?"

	// DefaultHistoryLimit caps the messages sent to the model, system
	// prompt included.
	DefaultHistoryLimit = 20

	// FailureNotice is shown to the human when no reply could be produced.
	FailureNotice = "Sorry, I couldn't come up with a reply. Please try again."

	interruptionNote = "\nNote: Your previous response was interrupted. The user has now said: '%s'. Respond appropriately as if in a phone call."
)

// DefaultSystemPrompt is the built-in persona.
const DefaultSystemPrompt = `You are a friendly, conversational assistant designed to feel like talking to a real person on a phone call. Please follow these guidelines:

1. Keep responses brief and natural like in a real phone conversation - aim for 1-3 sentences when possible
2. Use casual, conversational language with contractions (e.g., "I'm" instead of "I am")
3. Avoid formal phrases like "As an AI" or "I apologize" - speak naturally like a human would
4. Express appropriate enthusiasm, empathy, and personality
5. Get to the point quickly - phone conversations are direct
6. If interrupted, acknowledge it naturally and adjust (like "Oh, I see what you mean" or "Let me address that")
7. Include brief pauses and verbal fillers occasionally (like "hmm" or "well") when it feels natural
8. Ask follow-up questions occasionally to keep the conversation flowing

Remember that the user is speaking to you like they would in a phone call, so maintain that natural, back-and-forth conversational style.`

// ErrEmptyReply is returned when the model answers with nothing.
var ErrEmptyReply = errors.New("responder: empty reply")

// Option configures a [Responder].
type Option func(*Responder)

// WithSystemPrompt replaces [DefaultSystemPrompt]. Empty keeps the default.
func WithSystemPrompt(prompt string) Option {
	return func(r *Responder) {
		if prompt != "" {
			r.systemPrompt = prompt
		}
	}
}

// WithGreeting replaces [DefaultGreeting]. Empty keeps the default.
func WithGreeting(greeting string) Option {
	return func(r *Responder) {
		if greeting != "" {
			r.greeting = greeting
		}
	}
}

// WithHistoryLimit replaces [DefaultHistoryLimit]. Values below 2 are ignored.
func WithHistoryLimit(n int) Option {
	return func(r *Responder) {
		if n >= 2 {
			r.historyLimit = n
		}
	}
}

// WithReplyTimeout bounds each model call. Zero means no bound.
func WithReplyTimeout(d time.Duration) Option {
	return func(r *Responder) { r.timeout = d }
}

// WithMetrics records reply latency to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Responder) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Responder) { r.log = l }
}

// Responder turns user turns into replies. It holds no per-connection state
// and is safe for concurrent use.
type Responder struct {
	llm          llm.Provider
	systemPrompt string
	greeting     string
	historyLimit int
	timeout      time.Duration
	metrics      *observe.Metrics
	log          *slog.Logger
}

// New creates a Responder backed by provider.
func New(provider llm.Provider, opts ...Option) *Responder {
	r := &Responder{
		llm:          provider,
		systemPrompt: DefaultSystemPrompt,
		greeting:     DefaultGreeting,
		historyLimit: DefaultHistoryLimit,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Greeting returns the opening line.
func (r *Responder) Greeting() string { return r.greeting }

// NewConversation starts a history that already contains the greeting.
func (r *Responder) NewConversation() *Conversation {
	c := newConversation(r.historyLimit)
	c.add(llm.Message{Role: llm.RoleAssistant, Content: r.greeting})
	return c
}

// Reply records text as the user's turn and asks the model for an answer.
// A pending interruption is explained to the model once and then cleared.
// The answer is not stored; deliver it, then [Conversation.Commit] it. A
// cancelled ctx yields ctx's error.
func (r *Responder) Reply(ctx context.Context, c *Conversation, text string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "responder.reply")
	defer span.End()

	c.mu.Lock()
	c.addLocked(llm.Message{Role: llm.RoleUser, Content: text})
	prompt := r.systemPrompt
	interrupted := c.interrupted
	if interrupted {
		prompt += fmt.Sprintf(interruptionNote, text)
		c.interrupted = false
	}
	req := llm.CompletionRequest{
		SystemPrompt: prompt,
		Messages:     append([]llm.Message(nil), c.history...),
	}
	c.mu.Unlock()

	span.SetAttributes(
		attribute.Int("history.len", len(req.Messages)),
		attribute.Bool("interrupted", interrupted),
	)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := r.llm.Complete(ctx, req)
	r.record(ctx, time.Since(start), err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("responder: reply: %w", err)
	}

	reply := Casualize(strings.TrimSpace(resp.Content))
	if reply == "" {
		span.SetStatus(codes.Error, ErrEmptyReply.Error())
		return "", ErrEmptyReply
	}
	observe.TraceLogger(ctx, r.log).DebugContext(ctx, "responder: replied",
		"duration", time.Since(start),
		"tokens", resp.Usage.TotalTokens,
		"interrupted", interrupted,
	)
	return reply, nil
}

func (r *Responder) record(ctx context.Context, d time.Duration, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	r.metrics.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local chat model API (Groq, OpenAI,
// Anthropic, a local Ollama instance, ...) and exposes a uniform interface
// for generating conversational replies without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
	"strings"
)

// FinishError is the FinishReason of a [Chunk] reporting a mid-stream
// failure. The chunk's Text holds the error message.
const FinishError = "error"

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the user and drives the response.
	Messages []Message

	// SystemPrompt is an optional instruction placed before the history.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero leaves the
	// provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or
	// [FinishError].
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel that
	// emits Chunk values as they arrive. The channel is closed when
	// generation finishes or when ctx is cancelled; callers must drain it.
	//
	// Errors after the stream opened arrive as a Chunk with FinishReason
	// [FinishError]. The initial error return is non-nil only for failures
	// that prevent the stream from starting.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Collect drains a completion stream and returns the concatenated text. A
// [FinishError] chunk turns into an error; text received before it is
// returned alongside.
func Collect(ch <-chan Chunk) (string, error) {
	var (
		b   strings.Builder
		err error
	)
	for c := range ch {
		if c.FinishReason == FinishError {
			if err == nil {
				err = errors.New(c.Text)
			}
			continue
		}
		b.WriteString(c.Text)
	}
	return b.String(), err
}

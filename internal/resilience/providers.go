package resilience

import (
	"context"
	"log/slog"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

var (
	_ llm.Provider = (*LLMFallback)(nil)
	_ stt.Provider = (*STTFallback)(nil)
	_ tts.Provider = (*TTSFallback)(nil)
)

// LLMFallback is an [llm.Provider] backed by a [Group] of models.
type LLMFallback struct {
	*Group[llm.Provider]
}

// NewLLMFallback returns an LLMFallback led by primary.
func NewLLMFallback(primary llm.Provider, name string, cfg GroupConfig) *LLMFallback {
	return &LLMFallback{NewGroup(name, primary, cfg)}
}

// Complete asks the first healthy model.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(f.Group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a stream on the first healthy model. Errors after
// the stream opened arrive as chunks and do not fail over.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Call(f.Group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// STTFallback is an [stt.Provider] backed by a [Group] of recognizers.
type STTFallback struct {
	*Group[stt.Provider]
}

// NewSTTFallback returns an STTFallback led by primary.
func NewSTTFallback(primary stt.Provider, name string, cfg GroupConfig) *STTFallback {
	return &STTFallback{NewGroup(name, primary, cfg)}
}

// StartStream opens a session on the first recognizer that accepts one.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(f.Group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// TTSFallback is a [tts.Provider] backed by a [Group] of synthesizers. It
// always reports the primary's format and converts fallback audio to it.
type TTSFallback struct {
	*Group[tts.Provider]
}

// NewTTSFallback returns a TTSFallback led by primary.
func NewTTSFallback(primary tts.Provider, name string, cfg GroupConfig) *TTSFallback {
	return &TTSFallback{NewGroup(name, primary, cfg)}
}

// Format is the primary's audio format.
func (f *TTSFallback) Format() audio.Format { return f.Primary().Format() }

// SynthesizeStream starts synthesis on the first healthy provider.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	want := f.Format()
	return Call(f.Group, func(p tts.Provider) (<-chan []byte, error) {
		out, err := p.SynthesizeStream(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		if got := p.Format(); got != want {
			slog.Debug("resilience: converting fallback audio", "from", got.String(), "to", want.String())
			return audio.ConvertStream(out, got, want), nil
		}
		return out, nil
	})
}

// ListVoices asks the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return Call(f.Group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

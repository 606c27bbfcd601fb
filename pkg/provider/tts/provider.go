// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A provider wraps a speech synthesis service and presents a uniform
// streaming interface: SynthesizeStream accepts a channel of text fragments
// and returns a channel of raw 16-bit little-endian PCM audio as it becomes
// available.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/parley/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from text and returns a
	// channel of PCM chunks in the provider's [Provider.Format].
	//
	// The audio channel is closed when all text has been synthesised or
	// when ctx is cancelled; the caller must drain it. A non-nil error is
	// returned only when the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Format reports the sample rate and channel count of synthesised audio.
	Format() audio.Format
}

// VoiceProfile names a voice. Only ID is needed to synthesize; ListVoices
// fills in the rest.
type VoiceProfile struct {
	ID       string
	Name     string
	Provider string

	// SpeedFactor scales the speaking rate; 0 keeps the voice's default.
	// ElevenLabs accepts 0.7 to 1.2.
	SpeedFactor float64

	// Metadata carries provider labels such as accent or category.
	Metadata map[string]string
}

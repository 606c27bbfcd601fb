// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider wraps a real-time transcription service and exposes a uniform
// streaming interface. Once opened, a [SessionHandle] accepts raw 16-bit PCM
// audio and emits two streams of [Transcript] values: low-latency partials
// and authoritative finals. Both channels close when the session ends, either
// because Close was called or because the service hung up.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after the session ended.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the usual choice.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// Empty lets the provider use its default.
	Language string

	// Keywords are vocabulary hints for uncommon words.
	Keywords []KeywordBoost
}

// SessionHandle represents an open streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio matching StreamConfig.
	// Calling SendAudio after the session ended returns [ErrSessionClosed].
	SendAudio(chunk []byte) error

	// Partials emits interim results. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed results. Closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session and releases its resources. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	// StartStream opens a new streaming session. The returned handle accepts
	// audio immediately. The caller owns it and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

package turn

import (
	"errors"

	"github.com/MrWong99/parley/internal/router"
)

// ErrTransportUnavailable is returned by a [Transport] whose connection is not
// open. The machine surfaces it as a status string and never retries.
var ErrTransportUnavailable = errors.New("transport unavailable")

// InterruptSignal is sent on the transport when the human cuts the responder off.
const InterruptSignal = "INTERRUPT"

// Status strings shown by the presentation layer.
const (
	StatusConnected     = "Connected"
	StatusDisconnected  = "Disconnected"
	StatusConnectionErr = "Connection error"
	StatusListening     = "Listening..."
	StatusSpeaking      = "Speaking..."
	StatusInterruptible = "Bot speaking (you can interrupt)"
	StatusCaptureFailed = "Speech recognition unavailable"
	StatusIdle          = ""
)

// CaptureErrorKind classifies errors reported by a [Recognizer].
type CaptureErrorKind string

// NoSpeech is reported when a capture session heard nothing for a while. It
// is benign and only resets the silence timer.
const NoSpeech CaptureErrorKind = "no-speech"

// CaptureUnavailable is reported when a capture session could not be opened.
// The session's OnCaptureEnd follows.
const CaptureUnavailable CaptureErrorKind = "unavailable"

// Recognizer is the speech-to-text engine. Start and Stop are commands; the
// engine reports progress asynchronously through [RecognizerEvents], tagging
// each event with the capture id returned by Start.
type Recognizer interface {
	// Start begins opening a capture session and returns its id without
	// waiting for the engine. A session that cannot be opened reports
	// [CaptureUnavailable]. An error means no session was started.
	Start() (captureID string, err error)

	// Stop ends the current capture session. Stopping an idle engine is a
	// no-op.
	Stop()
}

// RecognizerEvents receives speech-to-text callbacks. Transcripts are
// cumulative within one capture session.
type RecognizerEvents interface {
	OnTranscript(captureID, text string)
	OnCaptureEnd(captureID string)
	OnCaptureError(captureID string, kind CaptureErrorKind)
}

// Synthesizer is the text-to-speech engine.
type Synthesizer interface {
	// Speak starts rendering text and returns an id that tags the
	// subsequent start/end events.
	Speak(text string) (speechID string)

	// Cancel aborts the current synthesis, if any.
	Cancel()
}

// SynthesizerEvents receives text-to-speech callbacks.
type SynthesizerEvents interface {
	OnSpeechStart(speechID string)
	OnSpeechEnd(speechID string)
}

// Transport carries text frames to and from the conversational service.
type Transport interface {
	// Send queues text for delivery without waiting for the write. A write
	// that fails later is reported through [TransportEvents].OnError.
	Send(text string) error
}

// TransportEvents receives transport lifecycle and inbound frames.
type TransportEvents interface {
	OnOpen()
	OnMessage(text string)
	OnClose()
	OnError(err error)
}

// Presenter is the presentation layer.
type Presenter interface {
	// SetStatus replaces the status line.
	SetStatus(status string)

	// Show appends a message to the conversation view.
	Show(msg router.Message)

	// Draft shows the transcript of the utterance in progress. An empty
	// string clears it.
	Draft(text string)

	// AutoListen reports the current auto-listen setting. It is read at
	// every decision point, so changes apply immediately.
	AutoListen() bool
}

// Ports bundles the collaborators of a [Machine].
type Ports struct {
	Recognizer  Recognizer
	Synthesizer Synthesizer
	Transport   Transport
	Presenter   Presenter
}

func (p Ports) validate() error {
	var errs []error
	if p.Recognizer == nil {
		errs = append(errs, errors.New("recognizer is required"))
	}
	if p.Synthesizer == nil {
		errs = append(errs, errors.New("synthesizer is required"))
	}
	if p.Transport == nil {
		errs = append(errs, errors.New("transport is required"))
	}
	if p.Presenter == nil {
		errs = append(errs, errors.New("presenter is required"))
	}
	return errors.Join(errs...)
}

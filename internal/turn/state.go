package turn

import (
	"fmt"
	"time"
)

// State is the floor-holding state of a conversation session. It replaces the
// recording/speaking/interruption flag triple with a single tagged value so
// that a session can never listen "for interruption" without recording.
type State int

const (
	// StateIdle: nobody holds the floor and no capture is running.
	StateIdle State = iota

	// StateRecording: the human holds the floor through an explicitly
	// requested (or auto-resumed) capture session.
	StateRecording

	// StateRecordingForInterruption: capture started only to detect barge-in
	// while the responder is not (or no longer) speaking. Transient; the
	// machine never leaves a session in this state after an event completes
	// unless the synthesis start was missed.
	StateRecordingForInterruption

	// StateSpeaking: the responder is synthesising and no capture is running.
	StateSpeaking

	// StateSpeakingInterruptible: the responder is synthesising and capture
	// runs to detect barge-in.
	StateSpeakingInterruptible

	// StateSpeakingRecording: the responder started speaking while an explicit
	// capture was already in flight. The human's turn is left untouched.
	StateSpeakingRecording
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateRecordingForInterruption:
		return "recording-for-interruption"
	case StateSpeaking:
		return "speaking"
	case StateSpeakingInterruptible:
		return "speaking-interruptible"
	case StateSpeakingRecording:
		return "speaking-recording"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Recording reports whether a capture session is logically active.
func (s State) Recording() bool {
	switch s {
	case StateRecording, StateRecordingForInterruption, StateSpeakingInterruptible, StateSpeakingRecording:
		return true
	}
	return false
}

// BotSpeaking reports whether the responder holds the floor.
func (s State) BotSpeaking() bool {
	switch s {
	case StateSpeaking, StateSpeakingInterruptible, StateSpeakingRecording:
		return true
	}
	return false
}

// ListeningForInterruption reports whether the running capture was started
// because the responder is speaking rather than by explicit request.
func (s State) ListeningForInterruption() bool {
	return s == StateRecordingForInterruption || s == StateSpeakingInterruptible
}

// SessionState is a read-only snapshot of a session, for presentation and
// tests.
type SessionState struct {
	State                    State
	Recording                bool
	BotSpeaking              bool
	ListeningForInterruption bool
	AutoListenEnabled        bool
	LastActivity             time.Time
	SilenceThreshold         time.Duration
	Transcript               string
	SilenceTimerPending      bool
}

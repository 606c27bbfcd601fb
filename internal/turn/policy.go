package turn

// Action is the outcome of the auto-listen policy.
type Action int

const (
	// NoAction leaves capture as it is.
	NoAction Action = iota

	// StartInterruptionListening starts capture so the human can barge in
	// while the responder speaks.
	StartInterruptionListening

	// ResumeExplicitListening hands the floor back to the human once the
	// responder finished speaking.
	ResumeExplicitListening
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case StartInterruptionListening:
		return "start-interruption-listening"
	case ResumeExplicitListening:
		return "resume-explicit-listening"
	default:
		return "no-action"
	}
}

// Decide is the auto-listen policy. The machine evaluates it right after a
// synthesis start (state is then one of the speaking states) and right after
// a synthesis end has released any interruption capture (state is then idle
// or recording).
//
// Decide only looks at the instantaneous state. A human who stopped
// recording a moment before the responder finishes speaking still gets
// listening resumed.
func Decide(autoListen bool, s State) Action {
	if !autoListen {
		return NoAction
	}
	switch s {
	case StateSpeaking:
		return StartInterruptionListening
	case StateIdle:
		return ResumeExplicitListening
	default:
		return NoAction
	}
}

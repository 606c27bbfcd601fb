package turn

import "strings"

// Accumulator holds the transcript of the utterance in progress. Updates are
// cumulative: each one carries the full text recognised so far in the
// current capture session and replaces the previous value. Blank updates are
// ignored so a finalize always carries the last non-empty snapshot.
//
// When a capture session is restarted mid-utterance, [Accumulator.Carry]
// keeps what was recognised so far as a prefix for the new session.
type Accumulator struct {
	carried string
	text    string
}

// Update replaces the transcript of the current capture session. It reports
// whether text was non-blank.
func (a *Accumulator) Update(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if a.carried == "" {
		a.text = text
	} else {
		a.text = a.carried + " " + strings.TrimSpace(text)
	}
	return true
}

// Carry freezes the current text so that updates from the next capture
// session are appended to it.
func (a *Accumulator) Carry() { a.carried = strings.TrimSpace(a.text) }

// Text returns the held transcript without clearing it.
func (a *Accumulator) Text() string { return a.text }

// Empty reports whether nothing but whitespace has been recognised.
func (a *Accumulator) Empty() bool { return strings.TrimSpace(a.text) == "" }

// Take returns the trimmed transcript and clears the accumulator.
func (a *Accumulator) Take() string {
	s := strings.TrimSpace(a.text)
	a.Reset()
	return s
}

// Reset clears the accumulator.
func (a *Accumulator) Reset() {
	a.carried = ""
	a.text = ""
}

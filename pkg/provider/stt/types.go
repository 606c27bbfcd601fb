package stt

// Transcript is a speech-to-text result. Partial and final results share the
// type; IsFinal tells them apart.
type Transcript struct {
	// Text is the recognised speech for the current segment only. Deepgram
	// (like most streaming recognisers) restarts the text after every final.
	Text string

	// IsFinal marks an authoritative result for the segment. Later partials
	// start a new segment.
	IsFinal bool

	// SpeechFinal is set when the provider's endpointing decided the speaker
	// paused. It is informational; turn-taking uses its own silence timer.
	SpeechFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report it.
	Confidence float64
}

// KeywordBoost is a vocabulary hint that raises the recognition probability
// of an uncommon word.
type KeywordBoost struct {
	// Keyword is the word to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

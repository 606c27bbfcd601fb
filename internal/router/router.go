// Package router classifies inbound transport frames by their tag prefix and
// dispatches them to the presentation layer and, for assistant replies, to the
// speech synthesiser.
//
// The wire format is plain UTF-8 text. A frame starts with one of the tags
// "SYSTEM:", "YOU:" or "BOT:"; untagged frames are treated as assistant text.
// Matching is case-sensitive and the content after a tag is trimmed.
package router

import "strings"

// Wire tags.
const (
	TagSystem = "SYSTEM:"
	TagUser   = "YOU:"
	TagBot    = "BOT:"
)

// Kind identifies who authored a message.
type Kind int

const (
	// KindAssistant is a responder reply. It is displayed and spoken.
	KindAssistant Kind = iota

	// KindSystem is a service notice. Display only.
	KindSystem

	// KindUser is a human-authored message or its echo. Display only.
	KindUser
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindUser:
		return "user"
	default:
		return "assistant"
	}
}

// Message is a classified frame.
type Message struct {
	Kind Kind

	// Text is the content with the tag removed.
	Text string
}

// Classify parses a raw frame.
func Classify(raw string) Message {
	switch {
	case strings.HasPrefix(raw, TagSystem):
		return Message{Kind: KindSystem, Text: strings.TrimSpace(raw[len(TagSystem):])}
	case strings.HasPrefix(raw, TagUser):
		return Message{Kind: KindUser, Text: strings.TrimSpace(raw[len(TagUser):])}
	case strings.HasPrefix(raw, TagBot):
		return Message{Kind: KindAssistant, Text: strings.TrimSpace(raw[len(TagBot):])}
	default:
		return Message{Kind: KindAssistant, Text: raw}
	}
}

// Format renders a message as a tagged wire frame.
func Format(kind Kind, text string) string {
	switch kind {
	case KindSystem:
		return TagSystem + " " + text
	case KindUser:
		return TagUser + " " + text
	default:
		return TagBot + " " + text
	}
}

// Display shows classified messages to the human.
type Display interface {
	Show(msg Message)
}

// Speech renders assistant text as audio.
type Speech interface {
	Speak(text string)
}

// Router dispatches inbound frames.
type Router struct {
	display Display
	speech  Speech
}

// New returns a Router that shows every message on display and hands
// assistant text to speech.
func New(display Display, speech Speech) *Router {
	return &Router{display: display, speech: speech}
}

// Route classifies raw, displays it, and speaks it when it is an assistant
// message with content. The classified message is returned.
func (r *Router) Route(raw string) Message {
	msg := Classify(raw)
	r.display.Show(msg)
	if msg.Kind == KindAssistant && strings.TrimSpace(msg.Text) != "" {
		r.speech.Speak(msg.Text)
	}
	return msg
}

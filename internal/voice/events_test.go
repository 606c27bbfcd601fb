package voice

import (
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/turn"
)

type event struct {
	kind string
	id   string
	text string
}

// recorder collects recognizer and synthesizer events in arrival order.
type recorder struct {
	ch chan event
}

func newRecorder() *recorder { return &recorder{ch: make(chan event, 64)} }

func (r *recorder) OnTranscript(id, text string) { r.ch <- event{"transcript", id, text} }
func (r *recorder) OnCaptureEnd(id string)        { r.ch <- event{"capture-end", id, ""} }
func (r *recorder) OnCaptureError(id string, kind turn.CaptureErrorKind) {
	r.ch <- event{"capture-error", id, string(kind)}
}
func (r *recorder) OnSpeechStart(id string) { r.ch <- event{"speech-start", id, ""} }
func (r *recorder) OnSpeechEnd(id string)   { r.ch <- event{"speech-end", id, ""} }

// next returns the next event or fails after a timeout.
func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return event{}
	}
}

// expect reads the next event and checks its kind, id and text.
func (r *recorder) expect(t *testing.T, want event) {
	t.Helper()
	if got := r.next(t); got != want {
		t.Fatalf("event = %+v, want %+v", got, want)
	}
}

// quiet fails if an event arrives within d.
func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(d):
	}
}

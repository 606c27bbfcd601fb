package voice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

// idleCapture returns a capture whose source never delivers.
func idleCapture(t *testing.T) *audio.Capture {
	t.Helper()
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	return audio.NewCapture(pr, mono16k)
}

func TestRecognizer_CumulativeTranscripts(t *testing.T) {
	sess := sttmock.NewSession()
	prov := &sttmock.Provider{Sessions: []*sttmock.Session{sess}}
	rec := newRecorder()
	r := NewRecognizer(prov, idleCapture(t), rec, WithNoSpeechTimeout(0), WithLanguage("en-GB"))

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("empty capture id")
	}

	steps := []struct {
		final bool
		text  string
		want  string
	}{
		{false, "hel", "hel"},
		{true, "hello", "hello"},
		{false, "wor", "hello wor"},
		{true, "world", "hello world"},
	}
	for _, s := range steps {
		if s.final {
			sess.Final(s.text)
		} else {
			sess.Partial(s.text)
		}
		rec.expect(t, event{"transcript", id, s.want})
	}

	r.Stop()
	rec.expect(t, event{"capture-end", id, ""})
	r.Wait()
	if sess.Closed() != 1 {
		t.Errorf("session closed %d times, want 1", sess.Closed())
	}
	cfg := prov.StartStreamCalls[0].Cfg
	if cfg.SampleRate != 16000 || cfg.Channels != 1 || cfg.Language != "en-GB" {
		t.Errorf("stream config = %+v", cfg)
	}
}

type upperCorrector struct{}

func (upperCorrector) Correct(text string) string { return strings.ToUpper(text) }

func TestRecognizer_Corrector(t *testing.T) {
	sess := sttmock.NewSession()
	prov := &sttmock.Provider{Sessions: []*sttmock.Session{sess}}
	rec := newRecorder()
	r := NewRecognizer(prov, idleCapture(t), rec, WithNoSpeechTimeout(0), WithCorrector(upperCorrector{}))

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.Partial("hi")
	rec.expect(t, event{"transcript", id, "HI"})
	sess.Final("hi there")
	rec.expect(t, event{"transcript", id, "HI THERE"})

	r.Stop()
	rec.expect(t, event{"capture-end", id, ""})
	r.Wait()
}

func TestRecognizer_KeywordsAndLanguage(t *testing.T) {
	prov := &sttmock.Provider{}
	rec := newRecorder()
	r := NewRecognizer(prov, idleCapture(t), rec,
		WithNoSpeechTimeout(0),
		WithLanguage("en-US"),
		WithKeywords([]string{"Eldrinax", "Tower of Whispers"}, 2),
	)

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStreams(t, prov, 1)
	r.Stop()
	rec.expect(t, event{"capture-end", id, ""})
	r.Wait()

	if len(prov.StartStreamCalls) != 1 {
		t.Fatalf("StartStream calls = %d, want 1", len(prov.StartStreamCalls))
	}
	cfg := prov.StartStreamCalls[0].Cfg
	if cfg.Language != "en-US" || cfg.SampleRate != mono16k.SampleRate {
		t.Errorf("stream config = %+v", cfg)
	}
	if len(cfg.Keywords) != 2 || cfg.Keywords[1].Keyword != "Tower of Whispers" || cfg.Keywords[1].Boost != 2 {
		t.Errorf("keywords = %+v", cfg.Keywords)
	}
}

func TestRecognizer_ForwardsMicrophoneAudio(t *testing.T) {
	sess := sttmock.NewSession()
	prov := &sttmock.Provider{Sessions: []*sttmock.Session{sess}}
	rec := newRecorder()
	// Three 20 ms chunks of 16 kHz mono.
	capture := audio.NewCapture(bytes.NewReader(make([]byte, 640*3)), mono16k)
	r := NewRecognizer(prov, capture, rec, WithNoSpeechTimeout(0))

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := capture.Run(context.Background()); err != nil {
		t.Fatalf("capture.Run: %v", err)
	}

	rec.expect(t, event{"capture-error", id, string(KindAudioCapture)})
	rec.expect(t, event{"capture-end", id, ""})
	r.Wait()
	if got := sess.AudioCount(); got != 3 {
		t.Errorf("audio chunks = %d, want 3", got)
	}

	if _, err := r.Start(); !errors.Is(err, ErrMicrophoneEnded) {
		t.Errorf("Start after end = %v, want ErrMicrophoneEnded", err)
	}
}

func TestRecognizer_StreamUnavailable(t *testing.T) {
	prov := &sttmock.Provider{StartStreamErr: errors.New("dial refused")}
	rec := newRecorder()
	r := NewRecognizer(prov, idleCapture(t), rec)

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.expect(t, event{"capture-error", id, string(turn.CaptureUnavailable)})
	rec.expect(t, event{"capture-end", id, ""})
	r.Wait()
	rec.quiet(t, 50*time.Millisecond)
}

func TestRecognizer_StartDoesNotWaitForStream(t *testing.T) {
	sess := sttmock.NewSession()
	prov := newGatedProvider(&sttmock.Provider{Sessions: []*sttmock.Session{sess}})
	rec := newRecorder()
	r := NewRecognizer(prov, idleCapture(t), rec, WithNoSpeechTimeout(0))

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-prov.entered
	rec.quiet(t, 20*time.Millisecond)

	close(prov.release)
	sess.Partial("hello")
	rec.expect(t, event{"transcript", id, "hello"})
	r.Stop()
	rec.expect(t, event{"capture-end", id, ""})
	r.Wait()
}

func TestRecognizer_StopWhileOpening(t *testing.T) {
	prov := newGatedProvider(&sttmock.Provider{})
	rec := newRecorder()
	r := NewRecognizer(prov, idleCapture(t), rec, WithNoSpeechTimeout(0))

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-prov.entered
	r.Stop()

	// The pending open is cancelled and only the end is reported.
	rec.expect(t, event{"capture-end", id, ""})
	r.Wait()
	rec.quiet(t, 20*time.Millisecond)
}

func TestRecognizer_ProviderHangUp(t *testing.T) {
	sess := sttmock.NewSession()
	prov := &sttmock.Provider{Sessions: []*sttmock.Session{sess}}
	rec := newRecorder()
	r := NewRecognizer(prov, idleCapture(t), rec, WithNoSpeechTimeout(0))

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.HangUp()
	rec.expect(t, event{"capture-end", id, ""})
}

func TestRecognizer_NoSpeech(t *testing.T) {
	prov := &sttmock.Provider{}
	rec := newRecorder()
	r := NewRecognizer(prov, idleCapture(t), rec, WithNoSpeechTimeout(20*time.Millisecond))

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.expect(t, event{"capture-error", id, string(turn.NoSpeech)})
	r.Stop()
	// A second no-speech report may race with the stop.
	for {
		ev := rec.next(t)
		if ev.kind == "capture-end" {
			break
		}
	}
}

func TestRecognizer_RestartReplacesSession(t *testing.T) {
	first, second := sttmock.NewSession(), sttmock.NewSession()
	prov := &sttmock.Provider{Sessions: []*sttmock.Session{first, second}}
	rec := newRecorder()
	r := NewRecognizer(prov, idleCapture(t), rec, WithNoSpeechTimeout(0))

	id1, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStreams(t, prov, 1)
	id2, err := r.Start()
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if id1 == id2 {
		t.Fatal("capture ids must differ")
	}
	rec.expect(t, event{"capture-end", id1, ""})

	waitStreams(t, prov, 2)
	second.Partial("hi")
	rec.expect(t, event{"transcript", id2, "hi"})
}

func TestTranscript(t *testing.T) {
	var tr transcript
	if tr.partial("  ") {
		t.Error("blank partial reported a change")
	}
	if !tr.partial("a") || tr.partial("a") {
		t.Error("partial change detection")
	}
	if !tr.final("a b") {
		t.Error("final that extends the partial should report a change")
	}
	if tr.final("") {
		t.Error("empty final after commit should not report a change")
	}
	tr.partial("c")
	if got := tr.String(); got != "a b c" {
		t.Errorf("String() = %q, want %q", got, "a b c")
	}
}

// waitStreams waits until prov has opened n streams.
func waitStreams(t *testing.T, prov *sttmock.Provider, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for prov.CallCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("StartStream calls = %d, want %d", prov.CallCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

// gatedProvider holds every StartStream until release is closed or the
// caller gives up.
type gatedProvider struct {
	*sttmock.Provider
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedProvider(p *sttmock.Provider) *gatedProvider {
	return &gatedProvider{Provider: p, entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *gatedProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.once.Do(func() { close(p.entered) })
	select {
	case <-p.release:
		return p.Provider.StartStream(ctx, cfg)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

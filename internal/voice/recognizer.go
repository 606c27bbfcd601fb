// Package voice adapts the speech providers to the turn-taking ports.
//
// [Recognizer] feeds microphone audio from an [audio.Capture] into an STT
// session and reports cumulative transcripts. [Speaker] synthesises replies
// through a TTS provider and plays them on an [audio.Player]. Both emit their
// events from their own goroutines, never from inside Start, Stop, Speak or
// Cancel.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// Capture error kinds reported besides [turn.NoSpeech].
const (
	// KindNetwork means the STT session failed while streaming audio.
	KindNetwork turn.CaptureErrorKind = "network"

	// KindAudioCapture means the microphone source ended.
	KindAudioCapture turn.CaptureErrorKind = "audio-capture"
)

// ErrMicrophoneEnded is returned by [Recognizer.Start] once the capture source
// is exhausted. It is the only error Start returns.
var ErrMicrophoneEnded = errors.New("voice: microphone input ended")

const (
	defaultStartTimeout = 5 * time.Second
	defaultNoSpeech     = 8 * time.Second
	captureBuffer       = 50
)

// RecognizerOption configures a [Recognizer].
type RecognizerOption func(*Recognizer)

// WithLanguage sets the recognition language passed to the STT provider.
func WithLanguage(lang string) RecognizerOption {
	return func(r *Recognizer) { r.language = lang }
}

// WithNoSpeechTimeout sets how long a session may hear nothing before a
// [turn.NoSpeech] error is reported. Zero disables the report.
func WithNoSpeechTimeout(d time.Duration) RecognizerOption {
	return func(r *Recognizer) { r.noSpeech = d }
}

// WithStartTimeout bounds opening an STT session.
func WithStartTimeout(d time.Duration) RecognizerOption {
	return func(r *Recognizer) {
		if d > 0 {
			r.startTimeout = d
		}
	}
}

// Corrector rewrites a cumulative transcript before it is reported.
type Corrector interface {
	Correct(text string) string
}

// WithCorrector post-processes every transcript with c.
func WithCorrector(c Corrector) RecognizerOption {
	return func(r *Recognizer) { r.corrector = c }
}

// WithKeywords asks the provider to favour terms, such as names it would
// otherwise mishear. Each term gets the same boost.
func WithKeywords(terms []string, boost float64) RecognizerOption {
	return func(r *Recognizer) {
		r.keywords = r.keywords[:0]
		for _, t := range terms {
			r.keywords = append(r.keywords, stt.KeywordBoost{Keyword: t, Boost: boost})
		}
	}
}

// WithRecognizerLogger sets the logger. Default: slog.Default().
func WithRecognizerLogger(l *slog.Logger) RecognizerOption {
	return func(r *Recognizer) { r.log = l }
}

// Recognizer implements [turn.Recognizer] on top of an [stt.Provider].
//
// At most one session is active. Start only allocates the session; the STT
// stream is opened on the session goroutine, and a provider that cannot be
// reached is reported as [turn.CaptureUnavailable].
type Recognizer struct {
	provider     stt.Provider
	capture      *audio.Capture
	events       turn.RecognizerEvents
	language     string
	noSpeech     time.Duration
	startTimeout time.Duration
	corrector    Corrector
	keywords     []stt.KeywordBoost
	log          *slog.Logger

	mu     sync.Mutex
	active *recognition
	wg     sync.WaitGroup
}

// recognition is one capture session.
type recognition struct {
	id     string
	audio  <-chan []byte
	unsub  func()
	cancel context.CancelFunc
	stop   chan struct{}
	once   sync.Once
}

func (s *recognition) halt() {
	s.once.Do(func() {
		s.unsub()
		s.cancel()
		close(s.stop)
	})
}

func (s *recognition) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// NewRecognizer creates a recognizer that reports to events.
func NewRecognizer(provider stt.Provider, capture *audio.Capture, events turn.RecognizerEvents, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		provider:     provider,
		capture:      capture,
		events:       events,
		noSpeech:     defaultNoSpeech,
		startTimeout: defaultStartTimeout,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start implements [turn.Recognizer]. A session already running is stopped
// first. Microphone audio is buffered from here on while the STT stream
// opens.
func (r *Recognizer) Start() (string, error) {
	if r.capture.Ended() {
		return "", ErrMicrophoneEnded
	}
	r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	ch, unsub := r.capture.Subscribe(captureBuffer)
	s := &recognition{
		id:     uuid.NewString(),
		audio:  ch,
		unsub:  unsub,
		cancel: cancel,
		stop:   make(chan struct{}),
	}

	r.mu.Lock()
	r.active = s
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, s)
	return s.id, nil
}

// Stop implements [turn.Recognizer]. The session's end is still reported
// through OnCaptureEnd, also when its stream was still opening.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	s := r.active
	r.active = nil
	r.mu.Unlock()
	if s != nil {
		s.halt()
	}
}

// Wait blocks until every session goroutine has returned.
func (r *Recognizer) Wait() { r.wg.Wait() }

// run opens the STT stream and serves the session until it ends for any
// reason. OnCaptureEnd is always the session's last event.
func (r *Recognizer) run(ctx context.Context, s *recognition) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		if r.active == s {
			r.active = nil
		}
		r.mu.Unlock()
		s.halt()
		r.events.OnCaptureEnd(s.id)
	}()

	if s.stopped() {
		return
	}
	handle, err := r.open(ctx)
	if err != nil {
		if !s.stopped() {
			r.log.Warn("voice: start recognition", "capture_id", s.id, "err", err)
			r.events.OnCaptureError(s.id, turn.CaptureUnavailable)
		}
		return
	}
	defer func() {
		if err := handle.Close(); err != nil {
			r.log.Debug("voice: closing stt session", "capture_id", s.id, "err", err)
		}
	}()
	r.log.Debug("voice: recognition started", "capture_id", s.id)
	r.stream(s, handle)
}

func (r *Recognizer) open(ctx context.Context) (stt.SessionHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.startTimeout)
	defer cancel()
	format := r.capture.Format()
	handle, err := r.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Language:   r.language,
		Keywords:   r.keywords,
	})
	if err != nil {
		return nil, fmt.Errorf("voice: open stt stream: %w", err)
	}
	return handle, nil
}

// stream pumps audio into the session and transcripts out of it.
func (r *Recognizer) stream(s *recognition, handle stt.SessionHandle) {
	var (
		text     transcript
		quiet    <-chan time.Time
		quietT   *time.Timer
		partials = handle.Partials()
		finals   = handle.Finals()
		micAudio = s.audio
	)
	if r.noSpeech > 0 {
		quietT = time.NewTimer(r.noSpeech)
		defer quietT.Stop()
		quiet = quietT.C
	}
	heard := func() {
		if quietT != nil {
			quietT.Reset(r.noSpeech)
		}
	}

	for {
		select {
		case <-s.stop:
			return

		case chunk, ok := <-micAudio:
			if !ok {
				if !s.stopped() {
					r.events.OnCaptureError(s.id, KindAudioCapture)
				}
				return
			}
			if err := handle.SendAudio(chunk); err != nil {
				if !errors.Is(err, stt.ErrSessionClosed) {
					r.log.Warn("voice: sending audio to stt", "capture_id", s.id, "err", err)
					r.events.OnCaptureError(s.id, KindNetwork)
				}
				return
			}

		case t, ok := <-partials:
			if !ok {
				return
			}
			if text.partial(t.Text) {
				heard()
				r.report(s.id, text.String())
			}

		case t, ok := <-finals:
			if !ok {
				return
			}
			if text.final(t.Text) {
				heard()
				r.report(s.id, text.String())
			}

		case <-quiet:
			r.events.OnCaptureError(s.id, turn.NoSpeech)
			quietT.Reset(r.noSpeech)
		}
	}
}

func (r *Recognizer) report(id, text string) {
	if r.corrector != nil {
		text = r.corrector.Correct(text)
	}
	r.events.OnTranscript(id, text)
}

// transcript assembles the cumulative text of a session from committed
// segments and the segment still in progress.
type transcript struct {
	committed []string
	pending   string
}

// partial replaces the in-progress segment and reports whether the
// cumulative text changed.
func (t *transcript) partial(text string) bool {
	text = strings.TrimSpace(text)
	if text == t.pending {
		return false
	}
	t.pending = text
	return true
}

// final commits a segment and reports whether the cumulative text changed.
func (t *transcript) final(text string) bool {
	text = strings.TrimSpace(text)
	before := t.String()
	t.pending = ""
	if text != "" {
		t.committed = append(t.committed, text)
	}
	return t.String() != before
}

func (t *transcript) String() string {
	parts := t.committed
	if t.pending != "" {
		parts = append(parts[:len(parts):len(parts)], t.pending)
	}
	return strings.Join(parts, " ")
}

var _ turn.Recognizer = (*Recognizer)(nil)

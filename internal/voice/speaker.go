package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// SpeakerOption configures a [Speaker].
type SpeakerOption func(*Speaker)

// WithVoice selects the synthesis voice.
func WithVoice(v tts.VoiceProfile) SpeakerOption {
	return func(s *Speaker) { s.voice = v }
}

// WithSpeakerMetrics records time to first audio on m.
func WithSpeakerMetrics(m *observe.Metrics) SpeakerOption {
	return func(s *Speaker) { s.metrics = m }
}

// WithSpeakerLogger sets the logger. Default: slog.Default().
func WithSpeakerLogger(l *slog.Logger) SpeakerOption {
	return func(s *Speaker) { s.log = l }
}

// Speaker implements [turn.Synthesizer]. Each Speak call opens a synthesis
// stream and queues the audio on the player; the player's start and done
// callbacks become OnSpeechStart and OnSpeechEnd.
type Speaker struct {
	provider tts.Provider
	player   audio.Player
	events   turn.SynthesizerEvents
	voice    tts.VoiceProfile
	metrics  *observe.Metrics
	log      *slog.Logger

	// queueMu orders Cancel against a pending Enqueue so that a cancelled
	// utterance never reaches the player.
	queueMu sync.Mutex

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewSpeaker creates a speaker that plays on player and reports to events.
func NewSpeaker(provider tts.Provider, player audio.Player, events turn.SynthesizerEvents, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		provider: provider,
		player:   player,
		events:   events,
		log:      slog.Default(),
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Speak implements [turn.Synthesizer].
func (s *Speaker) Speak(text string) string {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.synthesize(ctx, id, text, time.Now())
	return id
}

// Cancel implements [turn.Synthesizer]. Every utterance in flight is
// stopped, queued or playing.
func (s *Speaker) Cancel() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()

	s.player.Interrupt()
}

// Close cancels everything and waits for the synthesis goroutines.
func (s *Speaker) Close() {
	s.Cancel()
	s.wg.Wait()
}

func (s *Speaker) synthesize(ctx context.Context, id, text string, started time.Time) {
	defer s.wg.Done()

	sentences := splitSentences(text)
	textCh := make(chan string, len(sentences))
	for _, sentence := range sentences {
		textCh <- sentence
	}
	close(textCh)

	audioCh, err := s.provider.SynthesizeStream(ctx, textCh, s.voice)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("voice: synthesis failed", "speech_id", id, "err", err)
		}
		s.finish(id)
		s.events.OnSpeechEnd(id)
		return
	}

	seg := &audio.Segment{
		ID:     id,
		Audio:  audioCh,
		Format: s.provider.Format(),
		OnStart: func() {
			if s.metrics != nil {
				s.metrics.TTSFirstAudio.Record(context.Background(), time.Since(started).Seconds())
			}
			s.events.OnSpeechStart(id)
		},
		OnDone: func(interrupted bool) {
			s.finish(id)
			s.log.Debug("voice: speech finished", "speech_id", id, "interrupted", interrupted)
			if interrupted {
				// The player reports dropped segments from inside
				// Interrupt, which runs within Cancel.
				go s.events.OnSpeechEnd(id)
				return
			}
			s.events.OnSpeechEnd(id)
		},
	}

	s.queueMu.Lock()
	if ctx.Err() != nil {
		s.queueMu.Unlock()
		audio.Drain(audioCh)
		s.events.OnSpeechEnd(id)
		return
	}
	s.player.Enqueue(seg)
	s.queueMu.Unlock()
}

// finish releases the cancel func of a completed utterance.
func (s *Speaker) finish(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
}

var _ turn.Synthesizer = (*Speaker)(nil)

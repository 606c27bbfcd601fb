package turn

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/router"
)

// ─── Manual clock ────────────────────────────────────────────────────────────

type manualTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// manualClock fires scheduled callbacks only when advanced.
type manualClock struct {
	now    time.Time
	timers []*manualTimer
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) AfterFunc(d time.Duration, f func()) Stopper {
	t := &manualTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, running every callback that falls due in
// deadline order.
func (c *manualClock) Advance(d time.Duration) {
	end := c.now.Add(d)
	for {
		next := c.nextDue(end)
		if next == nil {
			break
		}
		c.now = next.at
		next.fired = true
		next.f()
	}
	c.now = end
}

func (c *manualClock) nextDue(end time.Time) *manualTimer {
	var next *manualTimer
	for _, t := range c.timers {
		if t.stopped || t.fired || t.at.After(end) {
			continue
		}
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	return next
}

// active returns the number of scheduled, not yet fired or stopped callbacks.
func (c *manualClock) active() int {
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// ─── Collaborator fakes ──────────────────────────────────────────────────────

// callLog records engine and transport commands across fakes so tests can
// assert their relative order.
type callLog struct {
	calls []string
}

func (l *callLog) add(s string) { l.calls = append(l.calls, s) }

func (l *callLog) index(s string) int {
	for i, c := range l.calls {
		if c == s {
			return i
		}
	}
	return -1
}

type fakeRecognizer struct {
	log      *callLog
	n        int
	current  string
	startErr error
	starts   int
	stops    int
}

func (r *fakeRecognizer) Start() (string, error) {
	r.log.add("stt.start")
	r.starts++
	if r.startErr != nil {
		return "", r.startErr
	}
	r.n++
	r.current = fmt.Sprintf("capture-%d", r.n)
	return r.current, nil
}

func (r *fakeRecognizer) Stop() {
	r.log.add("stt.stop")
	r.stops++
}

type fakeSynthesizer struct {
	log     *callLog
	n       int
	current string
	spoken  []string
	cancels int
}

func (s *fakeSynthesizer) Speak(text string) string {
	s.log.add("tts.speak")
	s.spoken = append(s.spoken, text)
	s.n++
	s.current = fmt.Sprintf("speech-%d", s.n)
	return s.current
}

func (s *fakeSynthesizer) Cancel() {
	s.log.add("tts.cancel")
	s.cancels++
}

type fakeTransport struct {
	log  *callLog
	sent []string
	err  error
}

func (t *fakeTransport) Send(text string) error {
	t.log.add("send:" + text)
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, text)
	return nil
}

type fakePresenter struct {
	statuses []string
	shown    []router.Message
	drafts   []string
	auto     bool
}

func (p *fakePresenter) SetStatus(s string)      { p.statuses = append(p.statuses, s) }
func (p *fakePresenter) Show(msg router.Message) { p.shown = append(p.shown, msg) }
func (p *fakePresenter) Draft(text string)       { p.drafts = append(p.drafts, text) }
func (p *fakePresenter) AutoListen() bool        { return p.auto }

func (p *fakePresenter) lastStatus() string {
	if len(p.statuses) == 0 {
		return ""
	}
	return p.statuses[len(p.statuses)-1]
}

// ─── Invariant-checking logger ───────────────────────────────────────────────

// invariantHandler fails the test whenever the machine reports a violated
// session invariant. Everything else is discarded.
type invariantHandler struct {
	t *testing.T
}

func (h invariantHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h invariantHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == "turn: invariant violated" {
		attrs := ""
		r.Attrs(func(a slog.Attr) bool {
			attrs += " " + a.String()
			return true
		})
		h.t.Errorf("invariant violated:%s", attrs)
	}
	return nil
}

func (h invariantHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h invariantHandler) WithGroup(string) slog.Handler      { return h }

// ─── Harness ─────────────────────────────────────────────────────────────────

type harness struct {
	m     *Machine
	clock *manualClock
	log   *callLog
	rec   *fakeRecognizer
	tts   *fakeSynthesizer
	tr    *fakeTransport
	ui    *fakePresenter
}

func newHarness(t *testing.T, autoListen bool, opts ...Option) *harness {
	t.Helper()
	log := &callLog{}
	h := &harness{
		clock: newManualClock(),
		log:   log,
		rec:   &fakeRecognizer{log: log},
		tts:   &fakeSynthesizer{log: log},
		tr:    &fakeTransport{log: log},
		ui:    &fakePresenter{auto: autoListen},
	}
	base := []Option{
		WithClock(h.clock),
		WithLogger(slog.New(invariantHandler{t: t})),
	}
	m, err := New(Ports{
		Recognizer:  h.rec,
		Synthesizer: h.tts,
		Transport:   h.tr,
		Presenter:   h.ui,
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.m = m
	return h
}

// botSpeaks delivers an assistant frame and starts its synthesis.
func (h *harness) botSpeaks(text string) {
	h.m.HandleMessage("BOT: " + text)
	h.m.OnSpeechStart(h.tts.current)
}

func (h *harness) wantState(t *testing.T, want State) {
	t.Helper()
	if got := h.m.State(); got != want {
		t.Fatalf("state = %v, want %v", got, want)
	}
}

func (h *harness) wantSent(t *testing.T, want ...string) {
	t.Helper()
	if len(h.tr.sent) != len(want) {
		t.Fatalf("sent = %q, want %q", h.tr.sent, want)
	}
	for i := range want {
		if h.tr.sent[i] != want[i] {
			t.Fatalf("sent = %q, want %q", h.tr.sent, want)
		}
	}
}

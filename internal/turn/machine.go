// Package turn implements the voice turn-taking state machine.
//
// A [Machine] decides who holds the floor in a spoken conversation: the human
// (a capture session is recording), the responder (speech synthesis is
// running), both (barge-in capture runs while the responder speaks), or
// nobody. It turns cumulative transcript events into finalized utterances
// once the human has been silent for the configured threshold, supports
// barge-in, and re-arms listening after the responder finishes.
//
// A Machine is single-threaded: every method handles one event to completion
// and must not be called concurrently. [Loop] serializes events coming from
// engine, transport, and timer goroutines onto one Machine.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/router"
)

// Option configures a [Machine].
type Option func(*Machine)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithMetrics records utterances, interruptions, capture restarts, and state
// transitions on met.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Machine) { m.metrics = met }
}

// WithSilenceThreshold sets the quiet period that ends an utterance.
// Non-positive values are rejected by [New].
func WithSilenceThreshold(d time.Duration) Option {
	return func(m *Machine) { m.threshold = d }
}

// Machine is the turn-taking controller. It exclusively owns the session
// state; collaborators only receive commands.
type Machine struct {
	log     *slog.Logger
	clock   Clock
	metrics *observe.Metrics

	recognizer  Recognizer
	synthesizer Synthesizer
	transport   Transport
	presenter   Presenter
	router      *router.Router

	state        State
	threshold    time.Duration
	lastActivity time.Time
	acc          Accumulator
	timer        *SilenceTimer

	// captureID and speechID identify the engine sessions whose events are
	// current. Events carrying any other id are stale and dropped.
	captureID string
	speechID  string

	status string
	closed bool
}

// New creates an idle Machine.
func New(ports Ports, opts ...Option) (*Machine, error) {
	if err := ports.validate(); err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	m := &Machine{
		log:         slog.Default(),
		clock:       SystemClock{},
		recognizer:  ports.Recognizer,
		synthesizer: ports.Synthesizer,
		transport:   ports.Transport,
		presenter:   ports.Presenter,
		threshold:   DefaultSilenceThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	if m.threshold <= 0 {
		return nil, fmt.Errorf("turn: silence threshold must be positive, got %v", m.threshold)
	}
	m.timer = NewSilenceTimer(m.clock, m.onSilence)
	m.router = router.New(ports.Presenter, speechFunc(m.speak))
	return m, nil
}

// speechFunc adapts a method to [router.Speech].
type speechFunc func(string)

func (f speechFunc) Speak(text string) { f(text) }

// State returns the current floor state.
func (m *Machine) State() State { return m.state }

// Snapshot returns a copy of the session state.
func (m *Machine) Snapshot() SessionState {
	return SessionState{
		State:                    m.state,
		Recording:                m.state.Recording(),
		BotSpeaking:              m.state.BotSpeaking(),
		ListeningForInterruption: m.state.ListeningForInterruption(),
		AutoListenEnabled:        m.presenter.AutoListen(),
		LastActivity:             m.lastActivity,
		SilenceThreshold:         m.threshold,
		Transcript:               m.acc.Text(),
		SilenceTimerPending:      m.timer.Pending(),
	}
}

// SetSilenceThreshold changes the quiet period for subsequent timer arms.
func (m *Machine) SetSilenceThreshold(d time.Duration) {
	if d <= 0 {
		m.log.Warn("turn: ignoring non-positive silence threshold", "threshold", d)
		return
	}
	m.threshold = d
}

// ─── Explicit human requests ─────────────────────────────────────────────────

// StartListening hands the floor to the human. Any synthesis in progress is
// interrupted first. A capture that was only listening for barge-in becomes
// an explicit one. Starting while already recording explicitly is a no-op.
func (m *Machine) StartListening() {
	if m.closed {
		return
	}
	defer m.settle("start-listening")

	switch {
	case m.state.ListeningForInterruption():
		m.interrupt()
		m.setState(StateRecording)
		m.setStatus(StatusListening)
	case m.state.Recording():
		return
	default:
		m.interrupt()
		m.startCapture(false)
	}
}

// StopListening ends the human's capture session without sending anything.
// Stopping an idle machine is a no-op.
func (m *Machine) StopListening() {
	if m.closed || !m.state.Recording() {
		return
	}
	defer m.settle("stop-listening")

	m.stopCapture()
	m.setStatus(StatusIdle)
}

// ToggleListening starts listening when no capture runs and stops it otherwise.
func (m *Machine) ToggleListening() {
	if m.state.Recording() {
		m.StopListening()
		return
	}
	m.StartListening()
}

// Interrupt stops the responder mid-sentence and tells the service. A
// capture that was listening for barge-in keeps running as an explicit one.
func (m *Machine) Interrupt() {
	if m.closed {
		return
	}
	defer m.settle("interrupt")
	m.interrupt()
}

// SendText sends a typed message. It is shown as a user message and cuts off
// the responder first.
func (m *Machine) SendText(text string) {
	text = strings.TrimSpace(text)
	if m.closed || text == "" {
		return
	}
	defer m.settle("send-text")

	m.presenter.Show(router.Message{Kind: router.KindUser, Text: text})
	m.interrupt()
	m.send(text)
}

// ─── Speech-to-text events ───────────────────────────────────────────────────

// OnTranscript handles a cumulative transcript update. A non-blank update
// while the responder is speaking and capture listens for barge-in
// interrupts the responder. Every update restarts the silence timer.
func (m *Machine) OnTranscript(captureID, text string) {
	if m.closed || !m.currentCapture(captureID) {
		return
	}
	defer m.settle("transcript")

	if m.acc.Update(text) {
		m.lastActivity = m.clock.Now()
		m.presenter.Draft(m.acc.Text())
		if m.state == StateSpeakingInterruptible {
			m.bargeIn()
		}
	}
	m.timer.Arm(m.threshold)
}

// OnCaptureEnd handles the end of a capture session. If the machine still
// considers itself recording the engine stopped on its own, and it is
// restarted immediately.
func (m *Machine) OnCaptureEnd(captureID string) {
	if m.closed || captureID == "" || captureID != m.captureID {
		return
	}
	defer m.settle("capture-end")

	if !m.state.Recording() {
		m.captureID = ""
		if m.status == StatusListening || m.status == StatusInterruptible {
			m.setStatus(StatusIdle)
		}
		return
	}

	m.log.Info("turn: capture ended unexpectedly, restarting", "capture_id", captureID)
	m.acc.Carry()
	id, err := m.recognizer.Start()
	if err != nil {
		m.captureFailed(err)
		return
	}
	m.captureID = id
	if m.metrics != nil {
		m.metrics.RecordCaptureRestart(context.Background())
	}
}

// OnCaptureError handles a recognizer error. [NoSpeech] restarts the silence
// timer and [CaptureUnavailable] leaves recording like a failed start. Other
// kinds are logged and left to the capture-end path.
func (m *Machine) OnCaptureError(captureID string, kind CaptureErrorKind) {
	if m.closed || !m.currentCapture(captureID) {
		return
	}
	defer m.settle("capture-error")

	switch kind {
	case NoSpeech:
		m.timer.Arm(m.threshold)
		return
	case CaptureUnavailable:
		m.presenter.Draft("")
		m.captureFailed(fmt.Errorf("capture %s: %s", captureID, kind))
		return
	}
	m.log.Warn("turn: speech recognition error", "capture_id", captureID, "kind", string(kind))
}

// ─── Text-to-speech events ───────────────────────────────────────────────────

// OnSpeechStart marks the responder as holding the floor. An explicit capture
// in flight is left alone. Otherwise, with auto-listen on, capture starts so
// the human can barge in.
func (m *Machine) OnSpeechStart(speechID string) {
	if m.closed || speechID == "" || speechID != m.speechID {
		return
	}
	defer m.settle("speech-start")

	switch m.state {
	case StateIdle:
		m.setState(StateSpeaking)
	case StateRecording:
		m.setState(StateSpeakingRecording)
	case StateRecordingForInterruption:
		m.setState(StateSpeakingInterruptible)
	}
	m.setStatus(StatusSpeaking)

	if Decide(m.presenter.AutoListen(), m.state) == StartInterruptionListening {
		m.startCapture(true)
	}
}

// OnSpeechEnd releases the floor. Barge-in capture is stopped; then, with
// auto-listen on and nothing recording, listening resumes explicitly.
func (m *Machine) OnSpeechEnd(speechID string) {
	if m.closed || speechID == "" || speechID != m.speechID {
		return
	}
	defer m.settle("speech-end")

	m.speechID = ""
	if !m.state.BotSpeaking() {
		// Synthesis failed before it started.
		return
	}

	switch m.state {
	case StateSpeaking:
		m.setState(StateIdle)
	case StateSpeakingRecording:
		m.setState(StateRecording)
	case StateSpeakingInterruptible:
		m.setState(StateRecordingForInterruption)
	}
	m.setStatus(StatusIdle)

	if m.state.ListeningForInterruption() {
		m.stopCapture()
	}
	if Decide(m.presenter.AutoListen(), m.state) == ResumeExplicitListening {
		m.startCapture(false)
	}
}

// ─── Transport events ────────────────────────────────────────────────────────

// HandleMessage routes an inbound frame to the presenter and, for assistant
// text, to the synthesizer.
func (m *Machine) HandleMessage(raw string) {
	if m.closed {
		return
	}
	defer m.settle("message")

	msg := m.router.Route(raw)
	m.log.Debug("turn: inbound message", "kind", msg.Kind.String(), "len", len(msg.Text))
}

// OnTransportOpen reports the connection as up.
func (m *Machine) OnTransportOpen() { m.setStatus(StatusConnected) }

// OnTransportClose reports the connection as down. There is no reconnect.
func (m *Machine) OnTransportClose() { m.setStatus(StatusDisconnected) }

// OnTransportError reports a connection failure.
func (m *Machine) OnTransportError(err error) {
	m.log.Warn("turn: transport error", "err", err)
	m.setStatus(StatusConnectionErr)
}

// Close tears the session down: the silence timer is cancelled and both
// engines are told to stop. Further events are ignored.
func (m *Machine) Close() {
	if m.closed {
		return
	}
	m.timer.Cancel()
	m.recognizer.Stop()
	m.synthesizer.Cancel()
	m.acc.Reset()
	m.captureID = ""
	m.speechID = ""
	m.setState(StateIdle)
	m.closed = true
}

// ─── Internals ───────────────────────────────────────────────────────────────

func (m *Machine) currentCapture(id string) bool {
	return id != "" && id == m.captureID && m.state.Recording()
}

// onSilence is the silence timer callback.
func (m *Machine) onSilence() {
	if m.closed || !m.state.Recording() {
		return
	}
	defer m.settle("silence")

	if m.acc.Empty() {
		// Nothing to send. Barge-in capture keeps waiting for the human; an
		// explicit capture gives the floor back.
		if m.state.ListeningForInterruption() {
			return
		}
		m.stopCapture()
		m.setStatus(StatusIdle)
		return
	}

	text := m.acc.Take()
	id := uuid.NewString()
	m.log.Info("turn: utterance finalized", "utterance_id", id, "len", len(text))

	m.presenter.Draft("")
	m.presenter.Show(router.Message{Kind: router.KindUser, Text: text})
	m.interrupt()
	sent := m.send(text)
	if sent && m.metrics != nil {
		m.metrics.RecordUtterance(context.Background())
	}
	m.stopCapture()
	if sent {
		m.setStatus(StatusIdle)
	}
}

// bargeIn hands the floor to the human after speech was detected during
// synthesis.
func (m *Machine) bargeIn() {
	m.log.Info("turn: barge-in", "speech_id", m.speechID)
	m.interrupt()
	m.setStatus(StatusListening)
}

// interrupt cancels synthesis and notifies the service. It is a no-op when
// the responder is not speaking.
func (m *Machine) interrupt() {
	if !m.state.BotSpeaking() {
		return
	}
	m.synthesizer.Cancel()
	m.speechID = ""
	switch m.state {
	case StateSpeaking:
		m.setState(StateIdle)
	default:
		m.setState(StateRecording)
	}
	m.setStatus(StatusIdle)
	m.send(InterruptSignal)
	if m.metrics != nil {
		m.metrics.RecordInterruption(context.Background())
	}
}

// speak is the router's speech sink. A running synthesis is cancelled before
// the next one starts.
func (m *Machine) speak(text string) {
	if m.speechID != "" || m.state.BotSpeaking() {
		m.synthesizer.Cancel()
	}
	m.speechID = m.synthesizer.Speak(text)
}

// startCapture opens a capture session. On failure the status is updated and
// the state is left without capture.
func (m *Machine) startCapture(forInterruption bool) {
	id, err := m.recognizer.Start()
	if err != nil {
		m.captureFailed(err)
		return
	}
	m.captureID = id
	m.acc.Reset()
	m.lastActivity = m.clock.Now()

	speaking := m.state.BotSpeaking()
	switch {
	case forInterruption && speaking:
		m.setState(StateSpeakingInterruptible)
		m.setStatus(StatusInterruptible)
	case forInterruption:
		m.setState(StateRecordingForInterruption)
		m.setStatus(StatusInterruptible)
	case speaking:
		m.setState(StateSpeakingRecording)
		m.setStatus(StatusListening)
	default:
		m.setState(StateRecording)
		m.setStatus(StatusListening)
	}
}

// stopCapture ends the capture session and drops any partial transcript.
func (m *Machine) stopCapture() {
	m.timer.Cancel()
	m.recognizer.Stop()
	m.acc.Reset()
	m.presenter.Draft("")
	if m.state.BotSpeaking() {
		m.setState(StateSpeaking)
	} else {
		m.setState(StateIdle)
	}
}

func (m *Machine) captureFailed(err error) {
	m.log.Error("turn: failed to start speech recognition", "err", err)
	m.timer.Cancel()
	m.acc.Reset()
	m.captureID = ""
	if m.state.BotSpeaking() {
		m.setState(StateSpeaking)
	} else {
		m.setState(StateIdle)
	}
	m.setStatus(StatusCaptureFailed)
}

// send delivers text and reports whether it succeeded.
func (m *Machine) send(text string) bool {
	err := m.transport.Send(text)
	if err == nil {
		return true
	}
	m.log.Warn("turn: send failed", "err", err)
	if errors.Is(err, ErrTransportUnavailable) {
		m.setStatus(StatusDisconnected)
	} else {
		m.setStatus(StatusConnectionErr)
	}
	return false
}

func (m *Machine) setState(next State) {
	if next == m.state {
		return
	}
	m.log.Debug("turn: transition", "from", m.state.String(), "to", next.String())
	if m.metrics != nil {
		m.metrics.RecordTransition(context.Background(), m.state.String(), next.String())
	}
	m.state = next
}

// setStatus forwards status changes to the presenter, suppressing repeats.
func (m *Machine) setStatus(status string) {
	if status == m.status {
		return
	}
	m.status = status
	m.presenter.SetStatus(status)
}

// settle runs after every event and asserts the session invariants.
func (m *Machine) settle(event string) {
	if err := m.checkInvariants(); err != nil {
		m.log.Error("turn: invariant violated", "event", event, "state", m.state.String(), "err", err)
	}
}

func (m *Machine) checkInvariants() error {
	switch {
	case m.state.ListeningForInterruption() && !m.state.Recording():
		return fmt.Errorf("listening for interruption without recording")
	case m.timer.Pending() && !m.state.Recording():
		return fmt.Errorf("silence timer pending while not recording")
	case m.state.Recording() && m.captureID == "":
		return fmt.Errorf("recording without a capture session")
	case m.threshold <= 0:
		return fmt.Errorf("non-positive silence threshold %v", m.threshold)
	}
	return nil
}

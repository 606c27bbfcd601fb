package turn

import (
	"context"
	"sync"
	"time"
)

// defaultLoopBuffer is the event queue depth used when NewLoop gets a
// non-positive size.
const defaultLoopBuffer = 64

// Loop runs a [Machine] on a single goroutine. Engines, the transport, the
// silence timer and the console post events to the loop from their own
// goroutines; the loop applies them one at a time, so each event runs to
// completion before the next one starts.
//
// Loop implements [RecognizerEvents], [SynthesizerEvents] and
// [TransportEvents], so it can be handed to the collaborators as their
// callback sink before the Machine exists. Collaborators must not call back
// synchronously from inside a command (Start, Speak, Send, ...).
type Loop struct {
	events chan func(*Machine)
	done   chan struct{}
	once   sync.Once
}

// NewLoop creates a loop with an event queue of the given depth.
func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = defaultLoopBuffer
	}
	return &Loop{
		events: make(chan func(*Machine), buffer),
		done:   make(chan struct{}),
	}
}

// Do queues fn to run on the loop goroutine. It blocks while the queue is
// full and returns false once the loop has stopped.
func (l *Loop) Do(fn func(*Machine)) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Run processes events until ctx is cancelled, then closes m and stops
// accepting events. Events queued before Run are processed first.
func (l *Loop) Run(ctx context.Context, m *Machine) error {
	defer l.stop()
	defer m.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.events:
			fn(m)
		}
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) stop() {
	l.once.Do(func() { close(l.done) })
}

// Clock returns a [Clock] whose callbacks are delivered through the loop.
// Pass it to [New] with [WithClock] so silence timer fires are serialized
// with every other event.
func (l *Loop) Clock() Clock { return loopClock{loop: l} }

type loopClock struct {
	loop *Loop
}

func (c loopClock) Now() time.Time { return time.Now() }

func (c loopClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, func() {
		c.loop.Do(func(*Machine) { f() })
	})
}

// OnTranscript implements [RecognizerEvents].
func (l *Loop) OnTranscript(captureID, text string) {
	l.Do(func(m *Machine) { m.OnTranscript(captureID, text) })
}

// OnCaptureEnd implements [RecognizerEvents].
func (l *Loop) OnCaptureEnd(captureID string) {
	l.Do(func(m *Machine) { m.OnCaptureEnd(captureID) })
}

// OnCaptureError implements [RecognizerEvents].
func (l *Loop) OnCaptureError(captureID string, kind CaptureErrorKind) {
	l.Do(func(m *Machine) { m.OnCaptureError(captureID, kind) })
}

// OnSpeechStart implements [SynthesizerEvents].
func (l *Loop) OnSpeechStart(speechID string) {
	l.Do(func(m *Machine) { m.OnSpeechStart(speechID) })
}

// OnSpeechEnd implements [SynthesizerEvents].
func (l *Loop) OnSpeechEnd(speechID string) {
	l.Do(func(m *Machine) { m.OnSpeechEnd(speechID) })
}

// OnOpen implements [TransportEvents].
func (l *Loop) OnOpen() { l.Do(func(m *Machine) { m.OnTransportOpen() }) }

// OnMessage implements [TransportEvents].
func (l *Loop) OnMessage(text string) {
	l.Do(func(m *Machine) { m.HandleMessage(text) })
}

// OnClose implements [TransportEvents].
func (l *Loop) OnClose() { l.Do(func(m *Machine) { m.OnTransportClose() }) }

// OnError implements [TransportEvents].
func (l *Loop) OnError(err error) {
	l.Do(func(m *Machine) { m.OnTransportError(err) })
}

var (
	_ RecognizerEvents  = (*Loop)(nil)
	_ SynthesizerEvents = (*Loop)(nil)
	_ TransportEvents   = (*Loop)(nil)
	_ RecognizerEvents  = (*Machine)(nil)
	_ SynthesizerEvents = (*Machine)(nil)
)

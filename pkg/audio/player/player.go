// Package player provides the [audio.Player] that writes synthesised speech
// to the local output device.
package player

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

// DefaultLead is how far ahead of real time the player writes when pacing is
// enabled. It bounds how much already-written audio keeps playing after an
// interrupt.
const DefaultLead = 200 * time.Millisecond

// Option configures a [Player] during construction.
type Option func(*Player)

// WithGap sets the base silence gap inserted between consecutive segments.
// Jitter of ±1/6 of the gap is applied automatically. The default is zero.
func WithGap(d time.Duration) Option {
	return func(p *Player) { p.gap = d }
}

// WithPacing sets how far ahead of real time audio is written. Zero disables
// pacing: chunks are written as fast as the output accepts them and a
// segment ends as soon as its last chunk was written.
func WithPacing(lead time.Duration) Option {
	return func(p *Player) { p.lead = lead; p.paced = lead > 0 }
}

// Player plays [audio.Segment] values in FIFO order on a single [io.Writer].
// Every segment is converted to the output format before it is written.
//
// All exported methods are safe for concurrent use.
type Player struct {
	out    io.Writer
	format audio.Format
	lead   time.Duration
	paced  bool

	mu            sync.Mutex
	queue         []*audio.Segment
	gap           time.Duration
	playing       *audio.Segment
	cancelPlaying chan struct{} // closed to interrupt the current segment

	notify chan struct{} // signalled when a new segment is enqueued
	done   chan struct{} // closed by Close to stop the dispatch goroutine
	exited chan struct{} // closed when the dispatch goroutine returns
	closed bool
}

// New creates a Player writing PCM in the given format to out. The player
// starts a background dispatch goroutine immediately; call [Player.Close] to
// stop it.
func New(out io.Writer, format audio.Format, opts ...Option) *Player {
	p := &Player{
		out:    out,
		format: format,
		lead:   DefaultLead,
		paced:  true,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	go p.dispatch()
	return p
}

// Format returns the output format.
func (p *Player) Format() audio.Format { return p.format }

// Enqueue schedules segment for playback. Segments enqueued after Close are
// discarded and reported as interrupted.
func (p *Player) Enqueue(segment *audio.Segment) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		discard(segment)
		return
	}
	p.queue = append(p.queue, segment)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Interrupt stops the current segment and discards every queued one.
func (p *Player) Interrupt() {
	p.mu.Lock()
	dropped := p.interruptLocked()
	p.mu.Unlock()
	for _, seg := range dropped {
		discard(seg)
	}
}

// Playing reports whether a segment is currently being played.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing != nil
}

// SetGap configures the base silence duration inserted between consecutive
// segments.
func (p *Player) SetGap(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gap = d
}

// Close stops playback, discards queued segments and waits for the dispatch
// goroutine to exit. Close is idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.exited
		return nil
	}
	p.closed = true
	dropped := p.interruptLocked()
	p.mu.Unlock()

	for _, seg := range dropped {
		discard(seg)
	}
	close(p.done)
	<-p.exited
	return nil
}

// interruptLocked cancels the current segment and empties the queue. It
// returns the queued segments so the caller can report them outside the
// lock. Must be called with p.mu held.
func (p *Player) interruptLocked() []*audio.Segment {
	if p.cancelPlaying != nil {
		close(p.cancelPlaying)
		p.cancelPlaying = nil
	}
	p.playing = nil
	dropped := p.queue
	p.queue = nil
	return dropped
}

// dispatch pulls segments from the queue and plays them until Close.
func (p *Player) dispatch() {
	defer close(p.exited)

	var lastPlayed bool
	gapTimer := time.NewTimer(0)
	if !gapTimer.Stop() {
		<-gapTimer.C
	}
	defer gapTimer.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-p.notify:
		}

		for {
			seg, cancel, ok := p.dequeue()
			if !ok {
				break
			}

			if gap := p.gapWithJitter(); lastPlayed && gap > 0 {
				gapTimer.Reset(gap)
				select {
				case <-p.done:
					gapTimer.Stop()
					discard(seg)
					return
				case <-cancel:
					gapTimer.Stop()
					discard(seg)
					continue
				case <-gapTimer.C:
				}
			}

			interrupted := p.play(seg, cancel)
			lastPlayed = true

			p.mu.Lock()
			if p.playing == seg {
				p.playing = nil
				p.cancelPlaying = nil
			}
			p.mu.Unlock()

			if seg.OnDone != nil {
				seg.OnDone(interrupted)
			}
		}
	}
}

// dequeue pops the oldest segment and marks it as playing.
func (p *Player) dequeue() (*audio.Segment, chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return nil, nil, false
	}
	seg := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]

	cancel := make(chan struct{})
	p.playing = seg
	p.cancelPlaying = cancel
	return seg, cancel, true
}

// play streams seg to the output until it ends or cancel is closed. It
// reports whether playback was cut short.
func (p *Player) play(seg *audio.Segment, cancel <-chan struct{}) bool {
	from := seg.Format
	if from.SampleRate == 0 {
		from = p.format
	}
	conv := audio.NewConverter(from, p.format)

	var (
		start   time.Time
		written int
	)
	for {
		select {
		case <-p.done:
			go audio.Drain(seg.Audio)
			return true
		case <-cancel:
			go audio.Drain(seg.Audio)
			return true
		case chunk, ok := <-seg.Audio:
			if !ok {
				if err := seg.Err(); err != nil {
					slog.Warn("player: segment ended early", "segment", seg.ID, "err", err)
				}
				if written > 0 && !p.wait(p.format.Duration(written)-time.Since(start), cancel) {
					return true
				}
				return false
			}
			pcm := conv.Convert(chunk)
			if len(pcm) == 0 {
				continue
			}
			if written == 0 {
				start = time.Now()
				if seg.OnStart != nil {
					seg.OnStart()
				}
			}
			if _, err := p.out.Write(pcm); err != nil {
				slog.Warn("player: output write failed", "segment", seg.ID, "err", err)
				go audio.Drain(seg.Audio)
				return true
			}
			written += len(pcm)
			ahead := p.format.Duration(written) - time.Since(start) - p.lead
			if !p.wait(ahead, cancel) {
				go audio.Drain(seg.Audio)
				return true
			}
		}
	}
}

// wait sleeps for d when pacing is enabled. It returns false if playback was
// interrupted while waiting.
func (p *Player) wait(d time.Duration, cancel <-chan struct{}) bool {
	if !p.paced || d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-cancel:
		return false
	case <-p.done:
		return false
	}
}

// gapWithJitter returns the configured gap duration with ±1/6 jitter applied.
func (p *Player) gapWithJitter() time.Duration {
	p.mu.Lock()
	base := p.gap
	p.mu.Unlock()

	if base <= 0 {
		return 0
	}
	jitterRange := base / 6
	if jitterRange <= 0 {
		return base
	}
	jitter := time.Duration(rand.Int64N(int64(2*jitterRange+1))) - jitterRange
	return base + jitter
}

// discard drains a segment that will never play and reports it interrupted.
func discard(seg *audio.Segment) {
	go audio.Drain(seg.Audio)
	if seg.OnDone != nil {
		seg.OnDone(true)
	}
}

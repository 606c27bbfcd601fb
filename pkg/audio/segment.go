package audio

import (
	"sync/atomic"
	"time"
)

// Segment is one utterance of synthesised speech submitted to a [Player].
// Audio is streamed, so playback can begin before synthesis is complete.
type Segment struct {
	// ID identifies the segment in logs and callbacks.
	ID string

	// Audio is a read-only channel of PCM chunks in [Segment.Format]. The
	// producer closes it when the segment ends or when a mid-stream error
	// occurs. After the channel closes, call [Segment.Err] to check whether
	// synthesis completed cleanly.
	Audio <-chan []byte

	// Format describes the PCM on Audio.
	Format Format

	// OnStart, if set, is called once right before the first chunk is
	// written to the output.
	OnStart func()

	// OnDone, if set, is called exactly once when the segment leaves the
	// player. interrupted is true when playback was cut short or never
	// started.
	OnDone func(interrupted bool)

	streamErr atomic.Pointer[error]
}

// Err returns the error that caused the Audio channel to close prematurely,
// or nil if the stream completed successfully.
func (s *Segment) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error. The producer should call this
// before closing the Audio channel.
func (s *Segment) SetStreamErr(err error) {
	s.streamErr.Store(&err)
}

// Player plays segments one after another on a single output.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Enqueue schedules segment for playback after every segment already
	// queued.
	Enqueue(segment *Segment)

	// Interrupt stops the segment currently playing and discards the queue.
	// If nothing is playing, Interrupt is a no-op.
	Interrupt()

	// SetGap configures the silence inserted between consecutive segments.
	// Changes take effect before the next segment starts.
	SetGap(d time.Duration)
}

// Drain discards everything left on ch so its producer can finish. Dropped
// or interrupted segments are drained this way.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

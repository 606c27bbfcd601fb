package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultChunk is the capture chunk length used when none is configured.
const DefaultChunk = 20 * time.Millisecond

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithChunk sets the duration of each delivered chunk.
func WithChunk(d time.Duration) CaptureOption {
	return func(c *Capture) {
		if d > 0 {
			c.chunkDur = d
		}
	}
}

// WithRealtime paces reads to the stream's byte rate. Use it for sources that
// deliver faster than real time, such as files.
func WithRealtime() CaptureOption {
	return func(c *Capture) { c.realtime = true }
}

// Capture reads PCM from a source and delivers fixed-size chunks to the
// current subscriber. Only one subscriber exists at a time: subscribing
// again ends the previous subscription. Chunks arriving while nobody
// subscribes, or while the subscriber is behind, are dropped.
type Capture struct {
	r        io.Reader
	format   Format
	chunkDur time.Duration
	realtime bool

	mu    sync.Mutex
	sub   *subscription
	ended bool
}

type subscription struct {
	ch      chan []byte
	dropped int
}

// NewCapture creates a capture reading PCM in format from r.
func NewCapture(r io.Reader, format Format, opts ...CaptureOption) *Capture {
	c := &Capture{r: r, format: format, chunkDur: DefaultChunk}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Format returns the format of the captured audio.
func (c *Capture) Format() Format { return c.format }

// Run reads from the source until it is exhausted or ctx is cancelled. If the
// source is an [io.Closer] it is closed on cancellation to unblock the read.
// The current subscription ends when Run returns.
func (c *Capture) Run(ctx context.Context) error {
	defer c.finish()

	stop := context.AfterFunc(ctx, func() {
		if cl, ok := c.r.(io.Closer); ok {
			_ = cl.Close()
		}
	})
	defer stop()

	size := c.format.Bytes(c.chunkDur)
	if size <= 0 {
		return fmt.Errorf("audio: capture: invalid chunk size for %s", c.format)
	}

	start := time.Now()
	var read int
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(c.r, buf)
		if whole := n - n%c.format.FrameSize(); whole > 0 {
			c.deliver(buf[:whole])
			read += whole
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("audio: capture read: %w", err)
		}
		if c.realtime {
			if ahead := c.format.Duration(read) - time.Since(start); ahead > 0 {
				select {
				case <-time.After(ahead):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Subscribe starts receiving chunks on a channel with the given buffer
// depth. The returned function ends the subscription; it is safe to call
// more than once. The channel is closed when the subscription ends, when a
// newer subscription replaces it, or when the source is exhausted.
func (c *Capture) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	s := &subscription{ch: make(chan []byte, buffer)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		close(s.ch)
		return s.ch, func() {}
	}
	if c.sub != nil {
		c.closeLocked()
	}
	c.sub = s
	return s.ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.sub == s {
			c.closeLocked()
		}
	}
}

// Ended reports whether Run has returned. Subscriptions made afterwards are
// closed immediately.
func (c *Capture) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *Capture) deliver(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return
	}
	select {
	case c.sub.ch <- chunk:
	default:
		c.sub.dropped++
	}
}

// closeLocked ends the current subscription. Must be called with c.mu held.
func (c *Capture) closeLocked() {
	if c.sub.dropped > 0 {
		slog.Debug("audio: capture subscriber fell behind", "dropped_chunks", c.sub.dropped)
	}
	close(c.sub.ch)
	c.sub = nil
}

func (c *Capture) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
	if c.sub != nil {
		c.closeLocked()
	}
}

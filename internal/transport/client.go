// Package transport connects the turn-taking client to the conversational
// service over a WebSocket carrying tagged UTF-8 text frames.
//
// The client never reconnects. A dropped connection is reported once through
// OnClose and later sends fail with [turn.ErrTransportUnavailable]. Sends are
// queued and written in order by a per-connection writer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/turn"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	readLimit           = 1 << 20
	sendQueue           = 32
)

// ErrSendBacklog is returned by [Client.Send] while the outbound queue is
// full.
var ErrSendBacklog = errors.New("transport: send queue full")

// Option configures a [Client].
type Option func(*Client)

// WithDialTimeout bounds the WebSocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds writing a single queued frame.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client implements [turn.Transport]. Inbound frames and lifecycle changes
// are delivered to a [turn.TransportEvents] sink from the read goroutine.
type Client struct {
	url          string
	events       turn.TransportEvents
	dialTimeout  time.Duration
	writeTimeout time.Duration
	log          *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	out  chan string
}

// New creates a client for the service at url (ws:// or wss://).
func New(url string, events turn.TransportEvents, opts ...Option) *Client {
	c := &Client{
		url:          url,
		events:       events,
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run connects and reads frames until the connection ends or ctx is
// cancelled. A failed dial is reported as OnError followed by OnClose and
// returned. Cancellation closes the socket normally and returns nil.
func (c *Client) Run(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		err = fmt.Errorf("transport: dial %s: %w", c.url, err)
		c.events.OnError(err)
		c.events.OnClose()
		return err
	}
	conn.SetReadLimit(readLimit)

	connCtx, stopWriter := context.WithCancel(ctx)
	out := make(chan string, sendQueue)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(connCtx, conn, out)
	}()

	c.mu.Lock()
	c.conn, c.out = conn, out
	c.mu.Unlock()
	c.log.Info("transport: connected", "url", c.url)
	c.events.OnOpen()

	err = c.readLoop(ctx, conn)

	c.mu.Lock()
	c.conn, c.out = nil, nil
	c.mu.Unlock()
	stopWriter()
	<-writerDone

	if ctx.Err() != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
		c.events.OnClose()
		return nil
	}
	_ = conn.CloseNow()
	if err != nil {
		c.events.OnError(err)
	}
	c.events.OnClose()
	return err
}

// readLoop delivers text frames until the connection fails. A normal close
// by the peer returns nil.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.log.Info("transport: server closed the connection")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		if typ != websocket.MessageText {
			c.log.Debug("transport: ignoring binary frame", "bytes", len(msg))
			continue
		}
		c.events.OnMessage(string(msg))
	}
}

// writeLoop writes queued frames until ctx ends. A failed write is reported
// through OnError and closes the connection, which ends the read loop.
func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-out:
			wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, []byte(text))
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("transport: write failed", "err", err)
			c.events.OnError(fmt.Errorf("transport: send: %w", err))
			_ = conn.CloseNow()
			return
		}
	}
}

// Send implements [turn.Transport]. It queues text and returns at once.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return turn.ErrTransportUnavailable
	}
	select {
	case c.out <- text:
		return nil
	default:
		return ErrSendBacklog
	}
}

// Connected returns nil while the connection is open. It is meant for
// readiness probes.
func (c *Client) Connected(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("transport: not connected")
	}
	return nil
}

var _ turn.Transport = (*Client)(nil)

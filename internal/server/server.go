// Package server is the reference conversational service: a WebSocket
// endpoint that greets each caller, answers every user turn through a
// [responder.Responder] and honours INTERRUPT.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/responder"
	"github.com/MrWong99/parley/internal/router"
	"github.com/MrWong99/parley/internal/turn"
)

const (
	defaultReadLimit    = 64 << 10
	defaultWriteTimeout = 5 * time.Second
)

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithOriginPatterns allows cross-origin browser clients from these host
// patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithHealthCheckers adds readiness checks served on /readyz.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, checkers...) }
}

// Server handles conversation sockets. Conversation state lives only as
// long as its connection.
type Server struct {
	responder    *responder.Responder
	metrics      *observe.Metrics
	log          *slog.Logger
	origins      []string
	checkers     []health.Checker
	readLimit    int64
	writeTimeout time.Duration

	conns sync.WaitGroup

	// base is cancelled by Close, which sends every open call a going-away
	// close frame.
	base context.Context
	stop context.CancelFunc
}

// New creates a Server answering with r.
func New(r *responder.Responder, opts ...Option) *Server {
	s := &Server{
		responder:    r,
		log:          slog.Default(),
		readLimit:    defaultReadLimit,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.base, s.stop = context.WithCancel(context.Background())
	return s
}

// Handler returns the HTTP surface: /ws, /healthz, /readyz and /metrics,
// wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.HandleWS)
	health.New(s.checkers, health.WithLogger(s.log)).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() { s.conns.Wait() }

// Close ends every open conversation with a going-away close and waits for
// the handlers to return. New connections are refused afterwards.
func (s *Server) Close() {
	s.stop()
	s.conns.Wait()
}

// HandleWS upgrades the request and runs the conversation until either side
// closes.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if s.base.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn("server: accept failed", "err", err)
		return
	}
	conn.SetReadLimit(s.readLimit)

	s.conns.Add(1)
	defer s.conns.Done()

	c := &call{
		srv:  s,
		conn: conn,
		conv: s.responder.NewConversation(),
		log:  s.log.With("conn", uuid.NewString(), "remote", r.RemoteAddr),
	}
	stop := context.AfterFunc(s.base, func() {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	})
	defer stop()
	c.run(r.Context())
}

// call is one open conversation socket.
type call struct {
	srv  *Server
	conn *websocket.Conn
	conv *responder.Conversation
	log  *slog.Logger

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	replies sync.WaitGroup
}

func (c *call) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.srv.metrics.ActiveConnections.Add(ctx, 1)
	defer c.srv.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	c.log.Info("server: connection opened")
	defer c.log.Info("server: connection closed")

	defer c.replies.Wait()
	defer c.supersede()

	if err := c.write(ctx, router.Format(router.KindAssistant, c.srv.responder.Greeting())); err != nil {
		c.log.Warn("server: greeting failed", "err", err)
		c.conn.CloseNow()
		return
	}

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.closeAfter(err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		text := strings.TrimSpace(string(data))
		switch {
		case text == "":
		case text == turn.InterruptSignal:
			c.supersede()
			c.conv.MarkInterrupted()
			c.log.Debug("server: interrupted")
		default:
			c.answer(ctx, text)
		}
	}
}

// supersede cancels the reply in flight, if any, and makes sure a late
// result is never sent.
func (c *call) supersede() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// answer starts a reply to text. A newer turn supersedes it.
func (c *call) answer(ctx context.Context, text string) {
	c.supersede()

	rctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	gen := c.gen
	c.cancel = cancel
	c.mu.Unlock()

	c.replies.Add(1)
	go func() {
		defer c.replies.Done()
		defer cancel()

		reply, err := c.srv.responder.Reply(rctx, c.conv, text)
		out := router.Format(router.KindAssistant, reply)
		if err != nil {
			if rctx.Err() != nil {
				return
			}
			c.log.Error("server: reply failed", "err", err)
			out = router.Format(router.KindSystem, responder.FailureNotice)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return
		}
		c.cancel = nil
		if err := c.write(ctx, out); err != nil {
			c.log.Warn("server: send failed", "err", err)
			return
		}
		if reply != "" {
			c.conv.Commit(reply)
		}
	}()
}

func (c *call) write(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, c.srv.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (c *call) closeAfter(err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	if errors.Is(err, context.Canceled) {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	c.log.Debug("server: read ended", "err", err)
	c.conn.CloseNow()
}

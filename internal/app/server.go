package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/responder"
	"github.com/MrWong99/parley/internal/server"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithLLM injects the language model instead of building it from the
// registry.
func WithLLM(p llm.Provider) ServerOption {
	return func(s *Server) { s.llm = p }
}

// WithServerRegistry sets the registry used to build the configured LLM.
func WithServerRegistry(reg *config.Registry) ServerOption {
	return func(s *Server) { s.reg = reg }
}

// WithServerMetrics sets the metrics instance.
func WithServerMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// Server is the reference conversation server binary: an HTTP listener
// serving the conversation socket, health probes and metrics.
type Server struct {
	cfg     config.ServerConfig
	log     *slog.Logger
	metrics *observe.Metrics
	reg     *config.Registry
	llm     llm.Provider

	conv *server.Server
	http *http.Server
}

// NewServer builds the responder and HTTP server for cfg.
func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	s := &Server{
		cfg:     cfg.Server,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}

	var checkers []health.Checker
	if s.llm == nil {
		reg := s.reg
		if reg == nil {
			reg = config.NewRegistry()
			RegisterBuiltinProviders(reg)
		}
		group, err := BuildLLM(cfg.Providers, reg, s.metrics)
		if err != nil {
			return nil, err
		}
		s.llm = group
		checkers = append(checkers, health.Checker{Name: "llm", Check: group.Healthy})
		s.log.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name,
			"model", cfg.Providers.LLM.Model, "fallbacks", len(cfg.Providers.LLMFallbacks))
	}

	resp := responder.New(s.llm,
		responder.WithSystemPrompt(s.cfg.SystemPrompt),
		responder.WithGreeting(s.cfg.Greeting),
		responder.WithHistoryLimit(s.cfg.HistoryLimit),
		responder.WithReplyTimeout(s.cfg.ReplyTimeout),
		responder.WithMetrics(s.metrics),
		responder.WithLogger(s.log),
	)
	s.conv = server.New(resp,
		server.WithMetrics(s.metrics),
		server.WithLogger(s.log),
		server.WithHealthCheckers(checkers...),
	)
	s.http = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.conv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run listens on the configured address until ctx is cancelled or the
// listener fails. It does not close active conversations; use Shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if tls := s.cfg.TLS; tls != nil {
			s.log.Info("server listening", "addr", ln.Addr().String(), "tls", true)
			errCh <- s.http.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		s.log.Info("server listening", "addr", ln.Addr().String())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops accepting connections and closes open conversations,
// waiting for them up to ctx's deadline. Conversation sockets are hijacked,
// so http.Server.Shutdown alone does not reach them.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	done := make(chan struct{})
	go func() {
		s.conv.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("conversations still open at shutdown")
	}
	return err
}

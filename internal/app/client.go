// Package app assembles the parley binaries from their parts: provider
// construction, the voice client runtime and the conversation server
// runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/console"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/player"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	// loopBuffer is the depth of the turn loop's event queue.
	loopBuffer = 128

	// keywordBoost is the recognizer hint strength for vocabulary terms.
	keywordBoost = 2
)

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithProviders injects the speech providers instead of building them from
// the registry.
func WithProviders(s stt.Provider, t tts.Provider) ClientOption {
	return func(c *Client) {
		c.stt = s
		c.tts = t
	}
}

// WithRegistry sets the registry used to build the configured providers.
func WithRegistry(reg *config.Registry) ClientOption {
	return func(c *Client) { c.reg = reg }
}

// WithDevices replaces the configured audio devices.
func WithDevices(in io.ReadCloser, out io.WriteCloser) ClientOption {
	return func(c *Client) {
		c.input = in
		c.output = out
	}
}

// WithConsole replaces stdin and stdout as the terminal.
func WithConsole(in io.Reader, out io.Writer) ClientOption {
	return func(c *Client) {
		c.consoleIn = in
		c.consoleOut = out
	}
}

// WithMetrics sets the metrics instance. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) ClientOption {
	return func(c *Client) { c.level = v }
}

// Client is the voice client: microphone and speaker, the recognizer and
// synthesizer engines, the server connection and the terminal, all driven by
// one turn-taking [turn.Machine].
type Client struct {
	cfg     config.ClientConfig
	log     *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics
	reg     *config.Registry

	stt stt.Provider
	tts tts.Provider

	input      io.ReadCloser
	output     io.WriteCloser
	consoleIn  io.Reader
	consoleOut io.Writer

	loop       *turn.Loop
	machine    *turn.Machine
	capture    *audio.Capture
	player     *player.Player
	recognizer *voice.Recognizer
	speaker    *voice.Speaker
	transport  *transport.Client
	presenter  *console.Presenter
	reader     *console.Reader

	// closers run in reverse order during Shutdown.
	closers []func() error
}

// NewClient wires a client for cfg. Devices are opened here; nothing runs
// until [Client.Run].
func NewClient(ctx context.Context, cfg *config.Config, opts ...ClientOption) (*Client, error) {
	c := &Client{
		cfg:        cfg.Client,
		log:        slog.Default(),
		metrics:    observe.DefaultMetrics(),
		consoleIn:  os.Stdin,
		consoleOut: os.Stdout,
	}
	for _, o := range opts {
		o(c)
	}

	if err := c.initProviders(cfg.Providers); err != nil {
		return nil, err
	}
	if err := c.initDevices(ctx); err != nil {
		c.closeAll()
		return nil, err
	}

	c.loop = turn.NewLoop(loopBuffer)
	c.presenter = console.NewPresenter(c.consoleOut, c.cfg.AutoListen)

	c.capture = audio.NewCapture(c.input, c.cfg.AudioInputFormat())
	recOpts := []voice.RecognizerOption{
		voice.WithLanguage(c.cfg.Language),
		voice.WithNoSpeechTimeout(max(c.cfg.NoSpeechTimeout, 0)),
		voice.WithRecognizerLogger(c.log),
	}
	if vocab := transcript.NewVocabulary(c.cfg.Vocabulary); vocab.Len() > 0 {
		recOpts = append(recOpts,
			voice.WithCorrector(vocab),
			voice.WithKeywords(c.cfg.Vocabulary, keywordBoost),
		)
		c.log.Debug("transcript vocabulary loaded", "terms", vocab.Len())
	}
	c.recognizer = voice.NewRecognizer(c.stt, c.capture, c.loop, recOpts...)

	c.player = player.New(c.output, c.cfg.AudioOutputFormat())
	c.closers = append(c.closers, c.player.Close)
	c.speaker = voice.NewSpeaker(c.tts, c.player, c.loop,
		voice.WithVoice(tts.VoiceProfile{ID: c.cfg.Voice}),
		voice.WithSpeakerMetrics(c.metrics),
		voice.WithSpeakerLogger(c.log),
	)

	c.transport = transport.New(c.cfg.ServerURL, c.loop, transport.WithLogger(c.log))

	m, err := turn.New(turn.Ports{
		Recognizer:  c.recognizer,
		Synthesizer: c.speaker,
		Transport:   c.transport,
		Presenter:   c.presenter,
	},
		turn.WithClock(c.loop.Clock()),
		turn.WithLogger(c.log),
		turn.WithMetrics(c.metrics),
		turn.WithSilenceThreshold(c.cfg.SilenceThreshold),
	)
	if err != nil {
		c.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	c.machine = m

	c.reader = console.NewReader(c.consoleIn, c.consoleOut, console.LoopActions{Loop: c.loop}, c.presenter)
	return c, nil
}

func (c *Client) initProviders(cfg config.ProvidersConfig) error {
	if c.stt != nil && c.tts != nil {
		return nil
	}
	reg := c.reg
	if reg == nil {
		reg = config.NewRegistry()
		RegisterBuiltinProviders(reg)
	}
	if c.stt == nil {
		p, err := BuildSTT(cfg, reg, c.metrics)
		if err != nil {
			return err
		}
		c.stt = p
		c.log.Info("provider created", "kind", "stt", "name", cfg.STT.Name, "fallbacks", len(cfg.STTFallbacks))
	}
	if c.tts == nil {
		p, err := BuildTTS(cfg, reg, c.metrics)
		if err != nil {
			return err
		}
		c.tts = p
		c.log.Info("provider created", "kind", "tts", "name", cfg.TTS.Name, "fallbacks", len(cfg.TTSFallbacks))
	}
	return nil
}

func (c *Client) initDevices(ctx context.Context) error {
	if c.input == nil {
		in, err := audio.OpenInput(ctx, c.cfg.Audio.Input)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		c.input = in
	}
	c.closers = append(c.closers, c.input.Close)

	if c.output == nil {
		out, err := audio.OpenOutput(ctx, c.cfg.Audio.Output)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		c.output = out
	}
	c.closers = append(c.closers, c.output.Close)
	return nil
}

// Loop returns the event loop driving the turn machine.
func (c *Client) Loop() *turn.Loop { return c.loop }

// Presenter returns the terminal presenter.
func (c *Client) Presenter() *console.Presenter { return c.presenter }

// Run starts every component and blocks until ctx is cancelled, the user
// quits or a component fails. Quitting and cancellation return nil.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.loop.Run(gctx, c.machine) })
	g.Go(func() error { return c.capture.Run(gctx) })
	g.Go(func() error {
		if err := c.transport.Run(gctx); err != nil {
			// The machine already shows the connection error; the user can
			// keep reading the transcript until they quit.
			c.log.Warn("connection ended", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		err := c.reader.Run(gctx)
		if errors.Is(err, console.ErrQuit) {
			return errQuit
		}
		return err
	})
	if c.cfg.MetricsAddr != "" {
		g.Go(func() error { return c.serveMetrics(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// errQuit cancels the run group when the user quits.
var errQuit = errors.New("app: quit")

// serveMetrics exposes /metrics and the health probes until ctx ends.
func (c *Client) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New([]health.Checker{
		{Name: "transport", Check: c.transport.Connected},
	}, health.WithLogger(c.log)).Register(mux)

	srv := &http.Server{
		Addr:              c.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	c.log.Info("metrics listening", "addr", c.cfg.MetricsAddr)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ApplyConfig applies the hot-reloadable part of a config change. It is
// meant as the [config.Watcher] callback.
func (c *Client) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && c.level != nil {
		c.level.Set(d.NewLogLevel.Level())
		c.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AutoListenChanged {
		c.presenter.SetAutoListen(d.NewAutoListen)
	}
	if d.SilenceThresholdChanged {
		threshold := d.NewSilenceThreshold
		c.loop.Do(func(m *turn.Machine) { m.SetSilenceThreshold(threshold) })
		c.log.Info("silence threshold changed", "threshold", threshold)
	}
}

// Shutdown stops the engines and releases the devices. Call it after Run
// has returned.
func (c *Client) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.recognizer.Stop()
		c.recognizer.Wait()
		c.speaker.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn("engines did not stop in time")
	}
	return c.closeAll()
}

func (c *Client) closeAll() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		// Capture closes the input itself on cancellation.
		if err := c.closers[i](); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

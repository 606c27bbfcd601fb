// Command parley is the hands-free voice client. It listens on the
// microphone, sends finished utterances to the conversation server, speaks
// the replies and lets the user barge in while the bot is talking.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parley.yaml", "path to the YAML configuration file")
	serverURL := flag.String("server", "", "conversation server URL (overrides client.server_url)")
	autoListen := flag.Bool("auto", false, "start with auto-listen on")
	flag.Parse()

	// ── Configuration ─────────────────────────────────────────────────────────
	var client *app.Client
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if client != nil {
			client.ApplyConfig(old, new)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	// Flags override a private copy so reloads still diff file against file.
	base := *watcher.Current()
	cfg := &base
	if *serverURL != "" {
		cfg.Client.ServerURL = *serverURL
	}
	if *autoListen {
		cfg.Client.AutoListen = true
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The terminal belongs to the conversation, so logs go to stderr.
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "parley"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Client ────────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	client, err = app.NewClient(ctx, cfg,
		app.WithRegistry(reg),
		app.WithLogger(logger),
		app.WithLevelVar(level),
	)
	if err != nil {
		slog.Error("failed to initialise client", "err", err)
		return 1
	}

	slog.Info("parley starting",
		"config", *configPath,
		"server_url", cfg.Client.ServerURL,
		"auto_listen", cfg.Client.AutoListen,
		"stt", cfg.Providers.STT.Name,
		"tts", cfg.Providers.TTS.Name,
	)
	fmt.Println("Type a message, /listen to talk, /help for commands.")

	// ── Run ───────────────────────────────────────────────────────────────────
	runCtx, cancelRun := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancelRun()
		return client.Run(gctx)
	})
	g.Go(func() error { return watcher.Run(gctx) })

	code := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// Command subtitles captures audio from microphones, WAV files and Discord
// voice channels and streams live transcriptions to the configured sinks.
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

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/app"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/config"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "subtitles.yaml", "path to the YAML configuration file")
	reload := flag.Duration("reload-interval", 2*time.Second, "how often to check the config file for changes; 0 disables reloading")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Load configuration ────────────────────────────────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if application != nil {
			application.ApplyConfig(old, new)
		}
	}, config.WithInterval(*reload))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "subtitles: config file %q not found, copy subtitles.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "subtitles: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	slog.Info("subtitles starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	runID := uuid.NewString()
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "subtitles",
		ServiceVersion: version,
		RunID:          runID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err = app.New(ctx, cfg, app.WithLevel(level), app.WithRunID(runID))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("subtitles ready, press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	if *reload > 0 {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Subtitles — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Engine", engineLabel(cfg.Transcription.Engine))
	for _, fb := range cfg.Transcription.Fallbacks {
		printRow("Fallback", engineLabel(fb))
	}
	printRow("Language", cfg.Transcription.Language)
	for _, src := range cfg.Sources {
		printRow("Source", fmt.Sprintf("%s (%s)", src.Name, src.Kind))
	}
	printRow("Window", fmt.Sprintf("%.1fs / %.1fs overlap", cfg.Audio.WindowSeconds, cfg.Audio.OverlapSeconds))
	printRow("Console", onOff(cfg.Sinks.Console.Enabled))
	if cfg.Sinks.WebSocket.Enabled {
		printRow("Overlay", cfg.Server.ListenAddr+cfg.Sinks.WebSocket.Path)
	}
	if cfg.Sinks.NATS.URL != "" {
		printRow("NATS", cfg.Sinks.NATS.Subject)
	}
	if cfg.Sinks.Postgres.DSN != "" {
		printRow("Postgres", "enabled")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func engineLabel(e config.EngineEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

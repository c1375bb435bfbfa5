// Package app wires the subtitles subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the engine chain, the
// capture devices, the transcription pipeline and the sinks from the config;
// Run executes everything until the context is cancelled; Shutdown tears it
// all down in order.
//
// For testing, inject a registry with mock engines and devices via
// [WithRegistry]. When it is not provided, New registers the built-in
// implementations.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/config"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/discord"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/health"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/observe"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/resilience"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/sink"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/sink/postgres"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/transcribe"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
)

// App owns all subsystem lifetimes and runs the subtitles pipeline.
type App struct {
	cfg   *config.Config
	runID string

	registry *config.Registry
	metrics  *observe.Metrics
	level    *slog.LevelVar
	console  io.Writer
	extra    []sink.Sink

	// Subsystems, initialised in New and torn down in Shutdown.
	primary    stt.Engine
	fallbacks  []stt.Engine
	chains     []*resilience.EngineFallback // one per source when fallbacks exist
	pipeline   *transcribe.Pipeline
	dispatcher *sink.Dispatcher
	overlay    *sink.Overlay
	server     *http.Server
	bots       map[string]*discord.Bot // token → bot
	checkers   []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRunID sets the run ID stamped on every delivered message. Default: a
// random UUID.
func WithRunID(id string) Option {
	return func(a *App) { a.runID = id }
}

// WithRegistry replaces the built-in engine and device factories.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevel lets hot reloads change the level of the caller's log handler.
func WithLevel(l *slog.LevelVar) Option {
	return func(a *App) { a.level = l }
}

// WithConsole redirects the console sink. Default: os.Stdout.
func WithConsole(w io.Writer) Option {
	return func(a *App) { a.console = w }
}

// WithSinks adds sinks next to the configured ones.
func WithSinks(s ...sink.Sink) Option {
	return func(a *App) { a.extra = append(a.extra, s...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It connects to every
// configured backend (Discord, NATS, PostgreSQL) synchronously; a failure
// there aborts startup. Capture devices are opened later, in Run, and fall
// back to silence instead of failing.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		runID:   uuid.NewString(),
		console: os.Stdout,
		bots:    make(map[string]*discord.Bot),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(slogLevel(cfg.Server.LogLevel))
	if a.registry == nil {
		a.registry = config.NewRegistry()
		a.registerBuiltins(a.registry)
	}

	fail := func(step string, err error) (*App, error) {
		_ = a.Shutdown(context.Background())
		return nil, fmt.Errorf("app: %s: %w", step, err)
	}

	// ── 1. Engine chain ──────────────────────────────────────────────────
	if err := a.initEngines(); err != nil {
		return fail("init engines", err)
	}

	// ── 2. Sources + pipeline ────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return fail("init pipeline", err)
	}

	// ── 3. Sinks ─────────────────────────────────────────────────────────
	if err := a.initSinks(ctx); err != nil {
		return fail("init sinks", err)
	}

	// ── 4. Discord commands ──────────────────────────────────────────────
	for _, bot := range a.bots {
		discord.RegisterSubtitlesCommands(bot.Router(), a.pipeline, bot.Permissions())
	}

	// ── 5. Status server ─────────────────────────────────────────────────
	a.initServer()

	slog.Info("app initialised",
		"run_id", a.runID,
		"sources", len(cfg.Sources),
		"engine", stt.NameOf(a.primary),
		"fallbacks", len(a.fallbacks),
		"sinks", len(a.dispatcherSinks()),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initEngines builds the primary engine and its fallbacks. Sources share the
// engines; each gets its own circuit-breaking chain in [App.sourceEngine].
func (a *App) initEngines() error {
	primary, err := a.registry.CreateEngine(a.cfg.Transcription.Engine)
	if err != nil {
		return err
	}
	a.addCloser(primary)
	a.primary = primary

	for _, entry := range a.cfg.Transcription.Fallbacks {
		e, err := a.registry.CreateEngine(entry)
		if err != nil {
			return err
		}
		a.addCloser(e)
		a.fallbacks = append(a.fallbacks, e)
		slog.Info("fallback engine configured", "engine", entry.Name)
	}
	if len(a.fallbacks) > 0 {
		a.checkers = append(a.checkers, health.Engines(a.engineStates))
	}
	return nil
}

// sourceEngine returns the engine chain of one source, or nil to use the
// primary directly when no fallback is configured.
func (a *App) sourceEngine() stt.Engine {
	if len(a.fallbacks) == 0 {
		return nil
	}
	chain := resilience.NewEngineFallback(a.primary, resilience.CircuitBreakerConfig{
		MaxFailures:  a.cfg.Transcription.MaxConsecutiveErrors,
		ResetTimeout: 30 * time.Second,
	})
	for _, e := range a.fallbacks {
		chain.AddFallback(e)
	}
	a.chains = append(a.chains, chain)
	return chain
}

func (a *App) engineStates() map[string]resilience.State {
	states := make([]map[string]resilience.State, 0, len(a.chains))
	for _, c := range a.chains {
		states = append(states, c.States())
	}
	return resilience.MergeStates(states...)
}

// initPipeline creates one capture device per source and the pipeline over
// them.
func (a *App) initPipeline() error {
	sources := make([]transcribe.Source, 0, len(a.cfg.Sources))
	for _, src := range a.cfg.Sources {
		dev, err := a.registry.CreateDevice(src)
		if err != nil {
			return err
		}
		sources = append(sources, transcribe.Source{Name: src.Name, Device: dev, Engine: a.sourceEngine()})
		slog.Info("source configured", "source", src.Name, "kind", src.Kind, "device", dev.Name())
	}

	p, err := transcribe.NewPipeline(sources, a.primary, a.cfg.Settings(),
		transcribe.WithPipelineMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.pipeline = p
	a.checkers = append(a.checkers, health.Sources(p.Status))
	return nil
}

// initSinks connects every configured sink and builds the dispatcher.
func (a *App) initSinks(ctx context.Context) error {
	sc := a.cfg.Sinks
	var sinks []sink.Sink
	fail := func(err error) error {
		for _, s := range sinks {
			if c, ok := s.(sink.Closer); ok {
				_ = c.Close()
			}
		}
		return err
	}

	if sc.Console.Enabled {
		sinks = append(sinks, sink.NewConsole(a.console, sc.Console.ShowTimestamps))
	}
	if sc.WebSocket.Enabled {
		a.overlay = sink.NewOverlay(sc.WebSocket.History,
			sink.WithOverlayMetrics(a.metrics),
			sink.WithOriginPatterns(sc.WebSocket.OriginPatterns...))
		sinks = append(sinks, a.overlay)
	}
	if sc.NATS.URL != "" {
		n, err := sink.DialNATS(sc.NATS.URL, sc.NATS.Subject)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, n)
		a.checkers = append(a.checkers, health.Connected("nats", n.Healthy))
		slog.Info("publishing transcripts", "url", sc.NATS.URL, "subject", sc.NATS.Subject)
	}
	if sc.Postgres.DSN != "" {
		store, err := postgres.NewStore(ctx, sc.Postgres.DSN)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, store)
		a.checkers = append(a.checkers, health.Ping("postgres", store.Ping))
		slog.Info("logging transcripts to postgres", "run_id", a.runID)
	}
	sinks = append(sinks, a.extra...)

	a.dispatcher = sink.NewDispatcher(a.runID, sinks,
		sink.WithSpeakers(sc.Speakers),
		sink.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.dispatcher.Close)
	return nil
}

// initServer mounts health, metrics and the overlay on one HTTP server.
func (a *App) initServer() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	if a.overlay != nil {
		mux.Handle("GET "+a.cfg.Sinks.WebSocket.Path, a.overlay)
	}
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts capture, transcription, delivery, the status server and the
// Discord command loops, and blocks until ctx is cancelled or one of them
// fails. A cancelled ctx yields nil.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.pipeline.Run(ctx) })
	g.Go(func() error { return a.dispatcher.Run(ctx, a.pipeline.Transcriptions()) })
	for _, bot := range a.bots {
		g.Go(func() error { return bot.Run(ctx) })
	}
	if a.server != nil {
		g.Go(func() error {
			slog.Info("status server listening", "addr", a.server.Addr)
			err := a.server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: status server: %w", err)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	slog.Info("app running", "sources", len(a.pipeline.Status()))
	return g.Wait()
}

// Status returns the per-source pipeline state.
func (a *App) Status() []transcribe.SourceStatus { return a.pipeline.Status() }

// RunID identifies this process run on every delivered message.
func (a *App) RunID() string { return a.runID }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// the log level, the filter tunables and the speaker names. Other changes are
// logged as requiring a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.FilterChanged {
		t := d.NewFilter.Tunables()
		if err := t.Validate(); err != nil {
			slog.Warn("ignoring invalid filter settings", "err", err)
		} else {
			a.pipeline.SetTunables(t)
			slog.Info("filter settings applied")
		}
	}
	if d.SpeakersChanged {
		a.dispatcher.SetSpeakers(new.Sinks.Speakers)
		slog.Info("speaker names applied")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned. Call it after Run returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (a *App) addCloser(e stt.Engine) {
	if c, ok := e.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

func (a *App) dispatcherSinks() []string {
	var names []string
	if a.cfg.Sinks.Console.Enabled {
		names = append(names, "console")
	}
	if a.overlay != nil {
		names = append(names, "websocket")
	}
	if a.cfg.Sinks.NATS.URL != "" {
		names = append(names, "nats")
	}
	if a.cfg.Sinks.Postgres.DSN != "" {
		names = append(names, "postgres")
	}
	for _, s := range a.extra {
		names = append(names, s.Name())
	}
	return names
}

// slogLevel converts a config.LogLevel to its slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

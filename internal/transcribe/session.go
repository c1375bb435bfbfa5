package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/observe"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/resilience"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
)

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithMetrics records session metrics on m instead of the default instruments.
func WithMetrics(m *observe.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the base logger. The session adds a "source" attribute.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithClock replaces time.Now, which stamps windows for the silence timer
// and transcriptions.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// SessionStats is a snapshot of a session's counters.
type SessionStats struct {
	Windows        uint64
	Accepted       uint64
	Skipped        uint64
	Failed         uint64
	SilencePeriods uint64
	ContextResets  uint64
	Queue          QueueStats
}

// Session turns the frames of one source into transcriptions. Process and
// Run must be called from a single goroutine; Queue, SetTunables,
// RequestReset and Stats are safe from any goroutine.
type Session struct {
	name     string
	settings Settings
	tunables atomic.Pointer[Tunables]

	queue     *FrameQueue
	assembler *Assembler
	gate      SilenceGate
	filter    Filter
	context   *RollingContext
	dedupe    Deduper
	invoker   *Invoker
	budget    *resilience.ErrorBudget

	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time

	windows, accepted, skipped, failed atomic.Uint64
	silences, resets                   atomic.Uint64
	resetPending                       atomic.Bool
}

// NewSession returns a session named after its source. It owns a fresh
// [FrameQueue] that the source's capture worker must feed.
func NewSession(name string, engine stt.Engine, settings Settings, opts ...SessionOption) (*Session, error) {
	if engine == nil {
		return nil, errors.New("transcribe: session needs an engine")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("transcribe: session %q: %w", name, err)
	}
	s := &Session{
		name:     name,
		settings: settings,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.log = s.log.With("source", name)

	t := settings.Tunables
	s.tunables.Store(&t)
	s.queue = NewFrameQueue(settings.QueueCapacity)
	s.assembler = NewAssembler(s.queue, settings)
	s.context = NewRollingContext(settings.ContextSentences)
	s.invoker = NewInvoker(engine, name, s.metrics)
	log := s.log
	s.budget = resilience.NewErrorBudget(resilience.ErrorBudgetConfig{
		Name:           name,
		MaxConsecutive: settings.Errors.MaxConsecutive,
		RetryDelay:     settings.Errors.RetryDelay,
		Cooldown:       settings.Errors.Cooldown,
		ReportInterval: settings.Errors.ReportInterval,
		Report: func(err error, consecutive int) {
			log.Error("transcription failed", "consecutive", consecutive, "err", err)
		},
	})
	return s, nil
}

// Name returns the source name.
func (s *Session) Name() string { return s.name }

// Queue returns the frame queue the capture worker pushes into.
func (s *Session) Queue() *FrameQueue { return s.queue }

// Context returns the current rolling context.
func (s *Session) Context() string { return s.context.Text() }

// SetTunables replaces the silence, filter and dedupe settings. The next
// window uses the new values.
func (s *Session) SetTunables(t Tunables) {
	s.tunables.Store(&t)
}

// RequestReset clears the rolling context before the next window is
// processed.
func (s *Session) RequestReset() { s.resetPending.Store(true) }

// Tunables returns the settings currently in effect.
func (s *Session) Tunables() Tunables { return *s.tunables.Load() }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Windows:        s.windows.Load(),
		Accepted:       s.accepted.Load(),
		Skipped:        s.skipped.Load(),
		Failed:         s.failed.Load(),
		SilencePeriods: s.silences.Load(),
		ContextResets:  s.resets.Load(),
		Queue:          s.queue.Stats(),
	}
}

// Run assembles windows until ctx is done and sends every accepted
// transcription on out. After a failed window it waits the back-off chosen
// by the error budget. Run returns nil once ctx is cancelled.
func (s *Session) Run(ctx context.Context, out chan<- Transcription) error {
	for {
		w, err := s.assembler.Next(ctx)
		if err != nil {
			return nil
		}
		o := s.Process(ctx, w, s.now())
		switch o.Kind {
		case Accepted:
			select {
			case out <- o.Transcription:
			case <-ctx.Done():
				return nil
			}
		case Failed:
			if err := sleep(ctx, o.Backoff); err != nil {
				return nil
			}
		}
	}
}

// Process runs one window through the silence gate, the engine, the filter
// and the rolling context. now is the wall-clock time the window completed.
func (s *Session) Process(ctx context.Context, w Window, now time.Time) (o Outcome) {
	ctx, span := observe.StartWindowSpan(ctx, s.name, w.Seq)
	defer span.End()
	defer func() { s.count(ctx, o) }()

	log := observe.LoggerFrom(ctx, s.log)
	t := s.tunables.Load()
	samples := w.Samples()

	gate := s.gate.Check(samples, now, t.Silence)
	if s.resetPending.Swap(false) || gate.ResetContext {
		s.resetContext(ctx, log)
	}
	if !gate.Pass {
		if gate.Started {
			s.silences.Add(1)
			log.Debug("silence detected", "level", gate.Level)
		}
		return Outcome{Kind: Skipped, Reason: gate.Reason}
	}

	req := stt.Request{
		Samples:    samples,
		SampleRate: w.SampleRate,
		Language:   s.settings.Language,
		BeamSize:   s.settings.BeamSize,
	}
	if s.settings.UsePreviousText {
		req.Prompt = s.context.Text()
	}

	res, conf, err := s.invoker.Invoke(ctx, req)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return Outcome{Kind: Failed, Err: err}
		}
		return Outcome{Kind: Failed, Err: err, Backoff: s.budget.Failure(err)}
	}

	raw := strings.TrimSpace(res.Text)
	fr := s.filter.Apply(raw, conf, t.Filter)
	if fr.Text != raw {
		log.Debug("filtered transcription", "raw", raw, "filtered", fr.Text)
	}
	if !fr.Accepted {
		log.Debug("transcription rejected", "reason", fr.Reason, "confidence", conf, "threshold", fr.Threshold, "text", fr.Text)
		return Outcome{Kind: Skipped, Reason: fr.Reason, Raw: raw, Confidence: conf}
	}
	if s.dedupe.Duplicate(fr.Text, t.DedupeSimilarity) {
		log.Debug("duplicate transcription", "text", fr.Text)
		return Outcome{Kind: Skipped, Reason: ReasonDuplicate, Raw: raw, Confidence: conf}
	}

	if s.settings.UsePreviousText {
		s.context.Append(fr.Text)
	}
	s.dedupe.Remember(fr.Text)
	s.budget.Success()
	log.Info("transcription", "text", fr.Text, "confidence", conf)

	return Outcome{
		Kind:       Accepted,
		Raw:        raw,
		Confidence: conf,
		Transcription: Transcription{
			Source:     s.name,
			Text:       fr.Text,
			Confidence: conf,
			At:         now,
			Seq:        w.Seq,
		},
	}
}

func (s *Session) resetContext(ctx context.Context, log *slog.Logger) {
	if s.context.Text() != "" {
		log.Info("resetting context")
	}
	s.context.Reset()
	s.dedupe.Forget()
	s.resets.Add(1)
	s.metrics.RecordContextReset(ctx, s.name)
}

func (s *Session) count(ctx context.Context, o Outcome) {
	s.windows.Add(1)
	switch o.Kind {
	case Accepted:
		s.accepted.Add(1)
	case Skipped:
		s.skipped.Add(1)
	case Failed:
		s.failed.Add(1)
	}
	s.metrics.RecordWindow(ctx, s.name, o.Kind.String(), o.Reason)
}

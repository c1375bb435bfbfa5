package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/observe"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
)

// Source binds a display name to the device it is captured from.
type Source struct {
	Name   string
	Device audio.Device
	// Engine overrides the pipeline engine for this source. Stateful engines
	// such as a circuit-breaking fallback chain are given one per source.
	Engine stt.Engine
}

// SourceStatus describes one running source.
type SourceStatus struct {
	Name    string
	Capture CaptureState
	Stats   SessionStats
}

// PipelineOption configures a [Pipeline].
type PipelineOption func(*Pipeline)

// WithPipelineMetrics records every worker's metrics on m.
func WithPipelineMetrics(m *observe.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPipelineLogger sets the base logger of every worker.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// WithOutputBuffer sets the capacity of the transcription channel.
// Default: 64.
func WithOutputBuffer(n int) PipelineOption {
	return func(p *Pipeline) { p.buffer = n }
}

type sourceRunner struct {
	session *Session
	capture *CaptureWorker
}

// Pipeline runs one capture worker and one session per source and merges
// their transcriptions into a single channel. Sources share nothing but the
// stateless engine and the shutdown signal.
type Pipeline struct {
	settings Settings
	runners  []sourceRunner
	out      chan Transcription
	started  atomic.Bool

	metrics *observe.Metrics
	log     *slog.Logger
	buffer  int
}

// NewPipeline validates settings and prepares a session for every source.
func NewPipeline(sources []Source, engine stt.Engine, settings Settings, opts ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{
		settings: settings,
		log:      slog.Default(),
		buffer:   64,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if len(sources) == 0 {
		return nil, errors.New("transcribe: pipeline needs at least one source")
	}

	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		if src.Name == "" || src.Device == nil {
			return nil, fmt.Errorf("transcribe: source %q needs a name and a device", src.Name)
		}
		if seen[src.Name] {
			return nil, fmt.Errorf("transcribe: duplicate source %q", src.Name)
		}
		seen[src.Name] = true

		eng := engine
		if src.Engine != nil {
			eng = src.Engine
		}
		sess, err := NewSession(src.Name, eng, settings,
			WithMetrics(p.metrics), WithLogger(p.log))
		if err != nil {
			return nil, err
		}
		cw := NewCaptureWorker(src.Name, src.Device, sess.Queue(), settings,
			WithCaptureMetrics(p.metrics), WithCaptureLogger(p.log))
		p.runners = append(p.runners, sourceRunner{session: sess, capture: cw})
	}
	p.out = make(chan Transcription, max(p.buffer, 0))
	return p, nil
}

// Transcriptions returns the merged output. It is closed when Run returns.
func (p *Pipeline) Transcriptions() <-chan Transcription { return p.out }

// SetTunables applies t to every session.
func (p *Pipeline) SetTunables(t Tunables) {
	for _, r := range p.runners {
		r.session.SetTunables(t)
	}
}

// ResetContext asks the named source, or every source when name is empty,
// to clear its rolling context. It returns how many sources matched.
func (p *Pipeline) ResetContext(name string) int {
	n := 0
	for _, r := range p.runners {
		if name == "" || r.session.Name() == name {
			r.session.RequestReset()
			n++
		}
	}
	return n
}

// Status returns a snapshot of every source.
func (p *Pipeline) Status() []SourceStatus {
	out := make([]SourceStatus, 0, len(p.runners))
	for _, r := range p.runners {
		out = append(out, SourceStatus{
			Name:    r.session.Name(),
			Capture: r.capture.State(),
			Stats:   r.session.Stats(),
		})
	}
	return out
}

// Run blocks until ctx is cancelled and every worker has stopped. It may be
// called once.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("transcribe: pipeline already started")
	}
	defer close(p.out)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range p.runners {
		g.Go(func() error { return r.capture.Run(gctx) })
		g.Go(func() error { return r.session.Run(gctx, p.out) })
	}
	if p.settings.StatsInterval > 0 {
		g.Go(func() error {
			p.logStats(gctx, p.settings.StatsInterval)
			return nil
		})
	}
	p.log.Info("pipeline started", "sources", len(p.runners),
		"window_frames", p.settings.BufferFrames(), "overlap_frames", p.settings.OverlapFrames())
	err := g.Wait()
	p.log.Info("pipeline stopped")
	return err
}

func (p *Pipeline) logStats(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range p.Status() {
				p.log.Info("source stats",
					"source", st.Name,
					"capture", st.Capture.String(),
					"transcriptions", st.Stats.Accepted,
					"silence_periods", st.Stats.SilencePeriods,
					"windows", st.Stats.Windows,
					"failed", st.Stats.Failed,
					"dropped_frames", st.Stats.Queue.Dropped,
				)
			}
		}
	}
}

package sink

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/observe"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/transcribe"
)

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithSpeakers maps source names to display names. Unmapped sources are
// shown by their source name.
func WithSpeakers(names map[string]string) Option {
	return func(d *Dispatcher) { d.SetSpeakers(names) }
}

// WithQueueSize sets the per-sink backlog. Default: 64.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queueSize = n }
}

// WithDeliveryTimeout bounds a single Deliver call. Default: 5s.
func WithDeliveryTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithMetrics records deliveries on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher fans transcriptions out to sinks.
type Dispatcher struct {
	runID     string
	sinks     []Sink
	speakers  atomic.Pointer[map[string]string]
	queueSize int
	timeout   time.Duration
	metrics   *observe.Metrics
}

// NewDispatcher returns a Dispatcher stamping messages with runID.
func NewDispatcher(runID string, sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runID:     runID,
		sinks:     sinks,
		queueSize: 64,
		timeout:   5 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// SetSpeakers replaces the display names. Safe to call while Run is active.
func (d *Dispatcher) SetSpeakers(names map[string]string) {
	m := maps.Clone(names)
	d.speakers.Store(&m)
}

// Speaker returns the display name for source.
func (d *Dispatcher) Speaker(source string) string {
	if m := d.speakers.Load(); m != nil {
		if name, ok := (*m)[source]; ok && name != "" {
			return name
		}
	}
	return source
}

// Message converts t into the message sinks receive.
func (d *Dispatcher) Message(t transcribe.Transcription) Message {
	return Message{
		ID:         uuid.NewString(),
		RunID:      d.runID,
		Source:     t.Source,
		Speaker:    d.Speaker(t.Source),
		Text:       t.Text,
		Confidence: t.Confidence,
		At:         t.At,
		Seq:        t.Seq,
	}
}

// Run delivers everything received on in until in is closed, then drains
// the sink queues and returns. Cancelling ctx abandons queued messages.
func (d *Dispatcher) Run(ctx context.Context, in <-chan transcribe.Transcription) error {
	queues := make([]chan Message, len(d.sinks))
	var wg sync.WaitGroup
	for i, s := range d.sinks {
		q := make(chan Message, d.queueSize)
		queues[i] = q
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.drain(ctx, s, q)
		}()
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-in:
			if !ok {
				return nil
			}
			m := d.Message(t)
			for i, q := range queues {
				select {
				case q <- m:
				default:
					d.metrics.RecordDelivery(ctx, d.sinks[i].Name(), errQueueFull)
					slog.Warn("sink backlog full, dropping message", "sink", d.sinks[i].Name(), "source", m.Source)
				}
			}
		}
	}
}

var errQueueFull = errors.New("sink: queue full")

func (d *Dispatcher) drain(ctx context.Context, s Sink, q <-chan Message) {
	for m := range q {
		if ctx.Err() != nil {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Deliver(dctx, m)
		cancel()
		d.metrics.RecordDelivery(ctx, s.Name(), err)
		if err != nil {
			slog.Warn("sink delivery failed", "sink", s.Name(), "source", m.Source, "err", err)
		}
	}
}

// Close closes every sink that holds resources.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range d.sinks {
		if c, ok := s.(Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/observe"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
)

// CaptureState is the lifecycle stage of a [CaptureWorker].
type CaptureState int32

const (
	CaptureIdle CaptureState = iota
	CaptureLive
	CaptureFallback
	CaptureStopped
)

func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureLive:
		return "live"
	case CaptureFallback:
		return "fallback"
	case CaptureStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CaptureOption configures a [CaptureWorker].
type CaptureOption func(*CaptureWorker)

// WithCaptureMetrics records capture metrics on m.
func WithCaptureMetrics(m *observe.Metrics) CaptureOption {
	return func(w *CaptureWorker) { w.metrics = m }
}

// WithCaptureLogger sets the base logger.
func WithCaptureLogger(l *slog.Logger) CaptureOption {
	return func(w *CaptureWorker) { w.log = l }
}

// CaptureWorker moves frames from a device into a [FrameQueue].
//
// If the device cannot be opened, or its stream ends, the worker keeps the
// queue fed with all-zero frames at the nominal frame rate until shutdown,
// so window timing downstream stays intact.
type CaptureWorker struct {
	name       string
	device     audio.Device
	queue      *FrameQueue
	frameSize  int
	sampleRate int
	retryDelay time.Duration

	metrics *observe.Metrics
	log     *slog.Logger
	state   atomic.Int32
}

// NewCaptureWorker returns a worker for the source name reading dev into q.
func NewCaptureWorker(name string, dev audio.Device, q *FrameQueue, s Settings, opts ...CaptureOption) *CaptureWorker {
	w := &CaptureWorker{
		name:       name,
		device:     dev,
		queue:      q,
		frameSize:  s.FrameSize,
		sampleRate: s.SampleRate,
		retryDelay: s.ReadRetryDelay,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	if w.retryDelay <= 0 {
		w.retryDelay = 500 * time.Millisecond
	}
	w.log = w.log.With("source", name, "device", dev.Name())
	return w
}

// State returns the worker's current stage.
func (w *CaptureWorker) State() CaptureState { return CaptureState(w.state.Load()) }

// Run captures until ctx is done. It never returns a device error; device
// problems switch the worker to silent fallback. The opened source is
// closed on every exit path.
func (w *CaptureWorker) Run(ctx context.Context) error {
	defer w.state.Store(int32(CaptureStopped))

	src, err := w.device.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		var derr *audio.DeviceError
		if !errors.As(err, &derr) {
			err = &audio.DeviceError{Device: w.device.Name(), Op: "open", Err: err}
		}
		w.log.Warn("device unavailable, capturing silence", "err", err)
		w.metrics.RecordFallback(ctx, w.name, "open")
		return w.fallback(ctx)
	}

	closeSource := sync.OnceFunc(func() {
		if err := src.Close(); err != nil {
			w.log.Warn("closing device", "err", err)
		}
	})
	defer closeSource()

	w.state.Store(int32(CaptureLive))
	w.metrics.ActiveSources.Add(ctx, 1)
	defer w.metrics.ActiveSources.Add(context.WithoutCancel(ctx), -1)
	w.log.Info("capture started")

	for ctx.Err() == nil {
		frame, err := src.Read(ctx)
		switch {
		case err == nil:
			w.push(ctx, frame, false)
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF):
			w.log.Warn("stream ended, capturing silence")
			closeSource()
			w.metrics.RecordFallback(ctx, w.name, "eof")
			return w.fallback(ctx)
		default:
			w.log.Warn("read failed, retrying", "err", err, "delay", w.retryDelay)
			if sleep(ctx, w.retryDelay) != nil {
				return nil
			}
		}
	}
	return nil
}

// fallback pushes one zero frame immediately and then one per frame period.
func (w *CaptureWorker) fallback(ctx context.Context) error {
	w.state.Store(int32(CaptureFallback))
	period := audio.FrameDuration(w.frameSize, w.sampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var ts time.Duration
	for {
		w.push(ctx, audio.SilentFrame(w.frameSize, w.sampleRate, ts), true)
		ts += period
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *CaptureWorker) push(ctx context.Context, f audio.AudioFrame, fallback bool) {
	dropped := w.queue.Push(f)
	w.metrics.RecordFrame(ctx, w.name, fallback)
	if dropped {
		w.metrics.RecordDrop(ctx, w.name)
	}
}

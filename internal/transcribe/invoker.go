package transcribe

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/observe"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
)

// Invoker calls the speech engine for one source.
type Invoker struct {
	engine  stt.Engine
	name    string
	source  string
	metrics *observe.Metrics
}

// NewInvoker returns an Invoker for source. metrics may be nil.
func NewInvoker(engine stt.Engine, source string, metrics *observe.Metrics) *Invoker {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Invoker{
		engine:  engine,
		name:    stt.NameOf(engine),
		source:  source,
		metrics: metrics,
	}
}

// Invoke transcribes samples and returns the result with its confidence.
func (i *Invoker) Invoke(ctx context.Context, req stt.Request) (stt.Result, float64, error) {
	start := time.Now()
	res, err := i.engine.Transcribe(ctx, req)
	i.metrics.RecordEngineCall(ctx, i.name, i.source, time.Since(start).Seconds(), err)
	if err != nil {
		return stt.Result{}, 0, fmt.Errorf("transcribe: %s: %w", i.name, err)
	}
	conf := Confidence(res.Segments)
	i.metrics.Confidence.Record(ctx, conf)
	return res, conf, nil
}

// Confidence maps the mean per-segment average log-probability to a
// probability: exp(mean). It is 0 without segments or when the mean is not
// finite.
func Confidence(segments []stt.Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segments {
		sum += s.AvgLogProb
	}
	mean := sum / float64(len(segments))
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return 0
	}
	return math.Exp(mean)
}

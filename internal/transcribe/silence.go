package transcribe

import (
	"time"
)

// SilenceSettings tune the [SilenceGate].
type SilenceSettings struct {
	// SkipSilence drops windows whose peak level is below MinAudioLevel.
	// All-zero windows are dropped regardless.
	SkipSilence bool

	// MinAudioLevel is the peak amplitude, in [0, 1], under which a window
	// counts as silent.
	MinAudioLevel float64

	// ResetContext clears the rolling context once silence has lasted
	// longer than ResetAfter.
	ResetContext bool
	ResetAfter   time.Duration
}

// GateResult is the verdict of the [SilenceGate] on one window.
type GateResult struct {
	// Pass is true when the window should be transcribed.
	Pass bool

	// Reason is ReasonSilence or ReasonEmpty when Pass is false.
	Reason string

	// Level is the peak absolute sample value.
	Level float64

	// Started is true on the first window of a silent run.
	Started bool

	// ResetContext is true exactly once per continuous silent run, on the
	// first window after the run exceeded ResetAfter.
	ResetContext bool
}

// SilenceGate decides which windows reach the engine and when a silent
// stretch is long enough to forget the rolling context. A SilenceGate
// belongs to one session goroutine and is not safe for concurrent use.
type SilenceGate struct {
	silent    bool
	since     time.Time
	resetDone bool
	periods   int
}

// Check classifies samples captured at now.
func (g *SilenceGate) Check(samples []float32, now time.Time, cfg SilenceSettings) GateResult {
	level := PeakLevel(samples)
	res := GateResult{Level: level}

	// A zero level is silent even when MinAudioLevel is 0.
	if cfg.SkipSilence && (level == 0 || level < cfg.MinAudioLevel) {
		if !g.silent {
			g.silent = true
			g.since = now
			g.resetDone = false
			g.periods++
			res.Started = true
		} else if cfg.ResetContext && !g.resetDone && now.Sub(g.since) > cfg.ResetAfter {
			g.resetDone = true
			res.ResetContext = true
		}
		res.Reason = ReasonSilence
		return res
	}
	g.silent = false
	g.resetDone = false

	if level == 0 {
		res.Reason = ReasonEmpty
		return res
	}
	res.Pass = true
	return res
}

// Periods returns how many silent runs the gate has seen.
func (g *SilenceGate) Periods() int { return g.periods }

// InSilence reports whether the last checked window was silent.
func (g *SilenceGate) InSilence() bool { return g.silent }

// PeakLevel returns max(|s|) over samples, or 0 for an empty slice.
func PeakLevel(samples []float32) float64 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		peak = max(peak, s)
	}
	return float64(peak)
}

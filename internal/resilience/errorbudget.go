package resilience

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrorBudgetConfig tunes an [ErrorBudget]. Zero fields take the defaults
// noted on each field.
type ErrorBudgetConfig struct {
	// Name labels log lines, typically the audio source name.
	Name string

	// MaxConsecutive is the number of consecutive failures tolerated before
	// the longer cooldown applies. Default: 10.
	MaxConsecutive int

	// RetryDelay is the back-off after an ordinary failure. Default: 500ms.
	RetryDelay time.Duration

	// Cooldown is the back-off once MaxConsecutive is exceeded. Default: 2s.
	Cooldown time.Duration

	// ReportInterval is the minimum spacing between two failure reports.
	// Default: 5s.
	ReportInterval time.Duration

	// Report receives rate-limited failure reports. Nil logs a warning.
	Report func(err error, consecutive int)
}

// ErrorBudget counts consecutive failures of one caller and tells it how
// long to back off. It never gives up: after more than MaxConsecutive
// failures the counter resets and the caller waits Cooldown instead of
// RetryDelay.
type ErrorBudget struct {
	cfg ErrorBudgetConfig

	mu          sync.Mutex
	consecutive int
	total       int
	report      rate.Sometimes
}

// NewErrorBudget returns an ErrorBudget with defaults applied.
func NewErrorBudget(cfg ErrorBudgetConfig) *ErrorBudget {
	if cfg.MaxConsecutive <= 0 {
		cfg.MaxConsecutive = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Second
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 5 * time.Second
	}
	if cfg.Report == nil {
		name := cfg.Name
		cfg.Report = func(err error, consecutive int) {
			slog.Warn("transcription failed", "source", name, "consecutive", consecutive, "err", err)
		}
	}
	return &ErrorBudget{
		cfg:    cfg,
		report: rate.Sometimes{Interval: cfg.ReportInterval},
	}
}

// Failure records a failed call and returns the back-off the caller should
// observe before trying again.
func (b *ErrorBudget) Failure(err error) time.Duration {
	b.mu.Lock()
	b.consecutive++
	b.total++
	n := b.consecutive
	wait := b.cfg.RetryDelay
	if n > b.cfg.MaxConsecutive {
		b.consecutive = 0
		wait = b.cfg.Cooldown
	}
	b.mu.Unlock()

	b.report.Do(func() { b.cfg.Report(err, n) })
	return wait
}

// Success resets the consecutive-failure counter.
func (b *ErrorBudget) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
}

// Consecutive returns the current run of failures.
func (b *ErrorBudget) Consecutive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}

// Total returns the number of failures recorded since creation.
func (b *ErrorBudget) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

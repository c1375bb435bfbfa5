package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
)

// ErrAllFailed is returned when every engine of an [EngineFallback] fails or
// has an open circuit breaker.
var ErrAllFailed = errors.New("all engines failed")

// Compile-time interface assertions.
var (
	_ stt.Engine = (*EngineFallback)(nil)
	_ stt.Named  = (*EngineFallback)(nil)
)

// fallbackEntry pairs an engine with its dedicated circuit breaker.
type fallbackEntry struct {
	name    string
	engine  stt.Engine
	breaker *CircuitBreaker
}

// EngineFallback implements [stt.Engine] over a primary engine and zero or
// more fallbacks. Engines are tried in registration order; an engine whose
// breaker is open is skipped. When every breaker is open the primary is
// called anyway, so an open breaker only reroutes calls and never refuses
// them. Callers pace their retries themselves.
type EngineFallback struct {
	entries []fallbackEntry
	cfg     CircuitBreakerConfig
}

// NewEngineFallback creates an [EngineFallback] with primary as the preferred
// engine. cfg is the template for every per-engine breaker.
func NewEngineFallback(primary stt.Engine, cfg CircuitBreakerConfig) *EngineFallback {
	f := &EngineFallback{cfg: cfg}
	f.AddFallback(primary)
	return f
}

// AddFallback appends an engine. Call before the first Transcribe.
func (f *EngineFallback) AddFallback(e stt.Engine) {
	cfg := f.cfg
	cfg.Name = stt.NameOf(e)
	f.entries = append(f.entries, fallbackEntry{
		name:    cfg.Name,
		engine:  e,
		breaker: NewCircuitBreaker(cfg),
	})
}

// Name implements [stt.Named] and reports the primary engine.
func (f *EngineFallback) Name() string { return f.entries[0].name }

// Transcribe tries each engine until one succeeds. Cancellation of ctx stops
// the walk immediately.
func (f *EngineFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	var lastErr error
	attempted := false
	for i := range f.entries {
		entry := &f.entries[i]
		var res stt.Result
		err := entry.breaker.Execute(func() error {
			var innerErr error
			res, innerErr = entry.engine.Transcribe(ctx, req)
			return innerErr
		})
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Result{}, ctxErr
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping engine (circuit open)", "engine", entry.name)
			continue
		}
		attempted = true
		if i < len(f.entries)-1 {
			slog.Warn("engine failed, trying next", "engine", entry.name, "err", err)
		}
	}

	if !attempted {
		primary := &f.entries[0]
		res, err := primary.engine.Transcribe(ctx, req)
		if err == nil {
			primary.breaker.Reset()
			slog.Info("primary engine recovered with every circuit open", "engine", primary.name)
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Result{}, ctxErr
		}
		lastErr = err
	}
	return stt.Result{}, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// States reports the breaker state of every engine, keyed by engine name.
func (f *EngineFallback) States() map[string]State {
	out := make(map[string]State, len(f.entries))
	for _, e := range f.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// MergeStates combines the breaker states of several chains over the same
// engines. An engine reports the least restrictive state it has in any chain,
// so it is open only when every chain opened it.
func MergeStates(states ...map[string]State) map[string]State {
	out := make(map[string]State)
	for _, m := range states {
		for name, st := range m {
			cur, ok := out[name]
			if !ok || rank(st) < rank(cur) {
				out[name] = st
			}
		}
	}
	return out
}

func rank(s State) int {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	default:
		return 2
	}
}

package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/resilience"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/transcribe"
)

// Sources fails until every source's capture worker has started and after
// any of them has stopped. A source on silent fallback counts as running.
func Sources(status func() []transcribe.SourceStatus) Checker {
	return Checker{
		Name: "sources",
		Check: func(_ context.Context) error {
			var bad []string
			for _, s := range status() {
				switch s.Capture {
				case transcribe.CaptureLive, transcribe.CaptureFallback:
				default:
					bad = append(bad, fmt.Sprintf("%s=%s", s.Name, s.Capture))
				}
			}
			if len(bad) > 0 {
				return fmt.Errorf("not capturing: %s", strings.Join(bad, ", "))
			}
			return nil
		},
	}
}

// Engines fails when the circuit breaker of every engine is open.
func Engines(states func() map[string]resilience.State) Checker {
	return Checker{
		Name: "engines",
		Check: func(_ context.Context) error {
			st := states()
			for _, s := range st {
				if s != resilience.StateOpen {
					return nil
				}
			}
			if len(st) == 0 {
				return errors.New("no engine configured")
			}
			return errors.New("all engine circuits open")
		},
	}
}

// Connected wraps a connection-state probe such as a message bus client.
func Connected(name string, ok func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			if !ok() {
				return errors.New("not connected")
			}
			return nil
		},
	}
}

// Ping wraps a context-aware probe such as a database ping.
func Ping(name string, ping func(context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

package health

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/resilience"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/transcribe"
)

func TestSources(t *testing.T) {
	tests := []struct {
		name    string
		states  []transcribe.CaptureState
		wantErr string
	}{
		{"live", []transcribe.CaptureState{transcribe.CaptureLive}, ""},
		{"fallback is running", []transcribe.CaptureState{transcribe.CaptureLive, transcribe.CaptureFallback}, ""},
		{"not started", []transcribe.CaptureState{transcribe.CaptureIdle}, "s0=idle"},
		{"stopped", []transcribe.CaptureState{transcribe.CaptureLive, transcribe.CaptureStopped}, "s1=stopped"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Sources(func() []transcribe.SourceStatus {
				out := make([]transcribe.SourceStatus, len(tc.states))
				for i, st := range tc.states {
					out[i] = transcribe.SourceStatus{Name: "s" + string(rune('0'+i)), Capture: st}
				}
				return out
			})
			err := c.Check(context.Background())
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestEngines(t *testing.T) {
	check := func(states map[string]resilience.State) error {
		return Engines(func() map[string]resilience.State { return states }).Check(context.Background())
	}
	if err := check(map[string]resilience.State{"whisper-native": resilience.StateOpen, "openai": resilience.StateClosed}); err != nil {
		t.Errorf("one closed breaker should pass: %v", err)
	}
	if err := check(map[string]resilience.State{"whisper-native": resilience.StateOpen}); err == nil {
		t.Error("all open should fail")
	}
	if err := check(nil); err == nil {
		t.Error("no engines should fail")
	}
}

func TestConnectedAndPing(t *testing.T) {
	if err := Connected("nats", func() bool { return false }).Check(context.Background()); err == nil {
		t.Error("disconnected should fail")
	}
	boom := errors.New("boom")
	c := Ping("postgres", func(context.Context) error { return boom })
	if c.Name != "postgres" || !errors.Is(c.Check(context.Background()), boom) {
		t.Errorf("Ping did not forward the probe")
	}
}

package app

import (
	"context"
	"errors"
	"testing"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
)

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{
		"language": "es",
		"threads":  4,
		"timeout":  30.0,
		"ratio":    0.5,
		"wrong":    true,
	}
	if got := optString(opts, "language"); got != "es" {
		t.Errorf("optString(language) = %q", got)
	}
	if got := optString(opts, "threads"); got != "" {
		t.Errorf("optString(threads) = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	for key, want := range map[string]int{"threads": 4, "timeout": 30, "ratio": 0, "wrong": 0, "missing": 0} {
		if got := optInt(opts, key); got != want {
			t.Errorf("optInt(%s) = %d, want %d", key, got, want)
		}
	}
	if got := orDefault("", "es"); got != "es" {
		t.Errorf("orDefault = %q", got)
	}
}

func TestSilentDevice_NeverOpens(t *testing.T) {
	t.Parallel()
	src, err := silentDevice{name: "quiet"}.Open(context.Background())
	if src != nil {
		t.Fatal("expected no source")
	}
	var de *audio.DeviceError
	if !errors.As(err, &de) || de.Device != "quiet" {
		t.Fatalf("got %v, want DeviceError for quiet", err)
	}
}

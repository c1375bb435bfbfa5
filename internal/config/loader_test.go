package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/config"
)

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "subtitles.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Sources) != 3 {
		t.Errorf("sources: got %d, want 3", len(cfg.Sources))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: open") {
		t.Fatalf("got %v, want open error", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults", func(*config.Config) {}, ""},
		{"bad log level", func(c *config.Config) { c.Server.LogLevel = "loud" }, "server.log_level"},
		{"negative stats interval", func(c *config.Config) { c.Server.StatsIntervalMs = -1 }, "stats_interval_ms"},
		{"no sources", func(c *config.Config) { c.Sources = nil }, "at least one source"},
		{"duplicate source", func(c *config.Config) {
			c.Sources = append(c.Sources, config.SourceConfig{Name: "mic", Kind: config.SourceSilent})
		}, "duplicate"},
		{"unknown kind", func(c *config.Config) { c.Sources[0].Kind = "radio" }, "kind \"radio\""},
		{"wav without path", func(c *config.Config) { c.Sources[0].Kind = config.SourceWAV }, "path is required"},
		{"discord without token", func(c *config.Config) {
			c.Sources[0] = config.SourceConfig{Name: "vc", Kind: config.SourceDiscord,
				Discord: config.DiscordConfig{GuildID: "1", ChannelID: "2"}}
		}, "discord.token"},
		{"discord without channel", func(c *config.Config) {
			c.Sources[0] = config.SourceConfig{Name: "vc", Kind: config.SourceDiscord,
				Discord: config.DiscordConfig{Token: "t", GuildID: "1"}}
		}, "channel_id"},
		{"no engine", func(c *config.Config) { c.Transcription.Engine.Name = "" }, "transcription.engine.name"},
		{"unnamed fallback", func(c *config.Config) {
			c.Transcription.Fallbacks = []config.EngineEntry{{Model: "x"}}
		}, "fallbacks[0].name"},
		{"overlap not shorter than window", func(c *config.Config) { c.Audio.OverlapSeconds = 3 }, "overlap"},
		{"queue too small", func(c *config.Config) { c.Audio.QueueCapacity = 10 }, "queue capacity"},
		{"threshold out of range", func(c *config.Config) { c.Filter.ConfidenceThreshold = 1.5 }, "confidence threshold"},
		{"websocket path", func(c *config.Config) {
			c.Sinks.WebSocket.Enabled = true
			c.Sinks.WebSocket.Path = "ws"
		}, "must start with /"},
		{"websocket without server", func(c *config.Config) {
			c.Sinks.WebSocket.Enabled = true
			c.Server.ListenAddr = ""
		}, "listen_addr"},
		{"negative history", func(c *config.Config) { c.Sinks.WebSocket.History = -1 }, "history"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.Transcription.Engine.Name = ""

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "transcription.engine.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q lacks %q", err, want)
		}
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "subtitles.example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transcription.Engine.Name != "whisper-native" || len(cfg.Transcription.Fallbacks) != 1 {
		t.Errorf("engines: got %q + %d fallbacks", cfg.Transcription.Engine.Name, len(cfg.Transcription.Fallbacks))
	}
	if cfg.SpeakerName("mic") != "Narrator" {
		t.Errorf("speaker: got %q", cfg.SpeakerName("mic"))
	}
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidEngineNames lists the engines the service knows how to build.
// Used by [Validate] to warn about unrecognised engine names.
var ValidEngineNames = []string{"whisper-native", "whisper", "openai"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], applies
// the remaining defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.StatsIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("server.stats_interval_ms %d must not be negative", cfg.Server.StatsIntervalMs))
	}

	// Audio, transcription and filter values are checked in their runtime form.
	if err := cfg.Settings().Validate(); err != nil {
		errs = append(errs, err)
	}

	// Sources
	if len(cfg.Sources) == 0 {
		errs = append(errs, errors.New("sources: at least one source is required"))
	}
	seen := make(map[string]int, len(cfg.Sources))
	for i, src := range cfg.Sources {
		prefix := fmt.Sprintf("sources[%d]", i)
		if src.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[src.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of sources[%d]", prefix, src.Name, prev))
			}
			seen[src.Name] = i
		}
		if !src.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: portaudio, discord, wav, silent", prefix, src.Kind))
		}
		switch src.Kind {
		case SourceWAV:
			if src.Path == "" {
				errs = append(errs, fmt.Errorf("%s.path is required when kind is wav", prefix))
			}
		case SourceDiscord:
			if src.Discord.Token == "" {
				errs = append(errs, fmt.Errorf("%s.discord.token is required when kind is discord", prefix))
			}
			if src.Discord.GuildID == "" || src.Discord.ChannelID == "" {
				errs = append(errs, fmt.Errorf("%s.discord.guild_id and channel_id are required when kind is discord", prefix))
			}
		}
	}
	for name := range cfg.Sinks.Speakers {
		if _, ok := seen[name]; !ok {
			slog.Warn("speaker name configured for unknown source", "source", name)
		}
	}

	// Engines
	if cfg.Transcription.Engine.Name == "" {
		errs = append(errs, errors.New("transcription.engine.name is required"))
	}
	validateEngineName("transcription.engine", cfg.Transcription.Engine.Name)
	for i, fb := range cfg.Transcription.Fallbacks {
		prefix := fmt.Sprintf("transcription.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateEngineName(prefix, fb.Name)
	}

	// Sinks
	ws := cfg.Sinks.WebSocket
	if ws.Enabled {
		if !strings.HasPrefix(ws.Path, "/") {
			errs = append(errs, fmt.Errorf("sinks.websocket.path %q must start with /", ws.Path))
		}
		if cfg.Server.ListenAddr == "" {
			errs = append(errs, errors.New("sinks.websocket requires server.listen_addr"))
		}
	}
	if ws.History < 0 {
		errs = append(errs, fmt.Errorf("sinks.websocket.history %d must not be negative", ws.History))
	}
	if !cfg.Sinks.Console.Enabled && !ws.Enabled && cfg.Sinks.NATS.URL == "" && cfg.Sinks.Postgres.DSN == "" {
		slog.Warn("no sink configured; transcriptions will only be counted")
	}

	return errors.Join(errs...)
}

// validateEngineName logs a warning if name is non-empty and not one of
// [ValidEngineNames].
func validateEngineName(field, name string) {
	if name == "" || slices.Contains(ValidEngineNames, name) {
		return
	}
	slog.Warn("unknown engine name; may be a typo or a custom registration",
		"field", field,
		"name", name,
		"known", ValidEngineNames,
	)
}

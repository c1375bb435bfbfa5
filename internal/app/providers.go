package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/config"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/discord"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/health"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio/portaudio"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio/wavfile"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt/openai"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt/whisper"
)

// registerBuiltins registers every engine and device implementation this
// binary ships with.
func (a *App) registerBuiltins(reg *config.Registry) {
	lang := a.cfg.Transcription.Language

	// ── Engines ──────────────────────────────────────────────────────────────

	reg.RegisterEngine("whisper-native", func(entry config.EngineEntry) (stt.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		opts := []whisper.NativeOption{
			whisper.WithNativeLanguage(orDefault(optString(entry.Options, "language"), lang)),
			whisper.WithNativeBeamSize(a.cfg.Transcription.BeamSize),
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterEngine("whisper", func(entry config.EngineEntry) (stt.Engine, error) {
		opts := []whisper.Option{
			whisper.WithLanguage(orDefault(optString(entry.Options, "language"), lang)),
		}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterEngine("openai", func(entry config.EngineEntry) (stt.Engine, error) {
		opts := []openai.Option{
			openai.WithLanguage(orDefault(optString(entry.Options, "language"), lang)),
		}
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if s := optInt(entry.Options, "timeout_seconds"); s > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(s)*time.Second))
		}
		return openai.New(entry.APIKey, opts...)
	})

	// ── Devices ──────────────────────────────────────────────────────────────

	rate, frame := a.cfg.Audio.SampleRate, a.cfg.Audio.FrameSize

	reg.RegisterDevice(config.SourcePortAudio, func(src config.SourceConfig) (audio.Device, error) {
		return portaudio.New(src.Device, portaudio.WithFormat(rate, frame)), nil
	})

	reg.RegisterDevice(config.SourceWAV, func(src config.SourceConfig) (audio.Device, error) {
		return wavfile.New(src.Path, wavfile.WithFormat(rate, frame)), nil
	})

	reg.RegisterDevice(config.SourceDiscord, func(src config.SourceConfig) (audio.Device, error) {
		bot, err := a.bot(src.Discord)
		if err != nil {
			return nil, err
		}
		return bot.Device(src.Discord.GuildID, src.Discord.ChannelID), nil
	})

	reg.RegisterDevice(config.SourceSilent, func(src config.SourceConfig) (audio.Device, error) {
		return silentDevice{name: src.Name}, nil
	})
}

// bot returns the shared bot for the token of dc, connecting on first use.
func (a *App) bot(dc config.DiscordConfig) (*discord.Bot, error) {
	if b, ok := a.bots[dc.Token]; ok {
		return b, nil
	}
	b, err := discord.New(context.Background(), discord.Config{
		Token:          dc.Token,
		OperatorRoleID: dc.OperatorRoleID,
	})
	if err != nil {
		return nil, err
	}
	a.bots[dc.Token] = b
	a.closers = append(a.closers, b.Close)
	name := "discord"
	if n := len(a.bots); n > 1 {
		name = fmt.Sprintf("discord-%d", n)
	}
	a.checkers = append(a.checkers, health.Connected(name, b.Healthy))
	return b, nil
}

// errSilentSource makes the capture worker feed silence from the start.
var errSilentSource = errors.New("silent source")

// silentDevice never opens; the pipeline feeds its source with silent frames.
type silentDevice struct{ name string }

func (d silentDevice) Name() string { return "silent" }

func (d silentDevice) Open(context.Context) (audio.Source, error) {
	return nil, &audio.DeviceError{Device: d.name, Op: "open", Err: errSilentSource}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// optString extracts a string value from an options map.
// Returns "" if the key is absent or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// optInt extracts an integer value from an options map. YAML decodes
// integers as int; floats with no fraction are accepted too.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return 0
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

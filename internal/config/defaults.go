package config

import (
	"fmt"
	"time"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/sink"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/transcribe"
)

// DefaultOverlayPath is where the overlay WebSocket is mounted when
// sinks.websocket.path is empty.
const DefaultOverlayPath = "/ws"

// Default returns the configuration used for every key the YAML file leaves
// out. [LoadFromReader] decodes on top of it.
func Default() *Config {
	s := transcribe.DefaultSettings()
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			LogLevel:        LogInfo,
			StatsIntervalMs: ms(s.StatsInterval),
		},
		Audio: AudioConfig{
			SampleRate:       s.SampleRate,
			FrameSize:        s.FrameSize,
			WindowSeconds:    s.WindowSeconds,
			OverlapSeconds:   s.OverlapSeconds,
			QueueCapacity:    s.QueueCapacity,
			PollIntervalMs:   ms(s.PollInterval),
			ReadRetryDelayMs: ms(s.ReadRetryDelay),
		},
		Sources: []SourceConfig{{Name: "mic", Kind: SourcePortAudio}},
		Transcription: TranscriptionConfig{
			Engine:                EngineEntry{Name: "whisper-native"},
			Language:              s.Language,
			BeamSize:              s.BeamSize,
			UsePreviousText:       s.UsePreviousText,
			ContextSentences:      s.ContextSentences,
			MaxConsecutiveErrors:  s.Errors.MaxConsecutive,
			ErrorRetryDelayMs:     ms(s.Errors.RetryDelay),
			ErrorCooldownMs:       ms(s.Errors.Cooldown),
			ErrorReportIntervalMs: ms(s.Errors.ReportInterval),
		},
		Filter: FilterConfig{
			SilenceSkip:              s.Tunables.Silence.SkipSilence,
			MinAudioLevel:            s.Tunables.Silence.MinAudioLevel,
			ResetContextAfterSilence: s.Tunables.Silence.ResetContext,
			MaxSilenceBeforeReset:    s.Tunables.Silence.ResetAfter.Seconds(),
			DetectRepetitions:        s.Tunables.Filter.DetectRepetitions,
			MaxRepetitions:           s.Tunables.Filter.MaxRepetitions,
			HallucinationPatterns:    s.Tunables.Filter.HallucinationPatterns,
			FilterShortPhrases:       s.Tunables.Filter.FilterShortPhrases,
			MinTextLength:            s.Tunables.Filter.MinTextLength,
			ConfidenceThreshold:      s.Tunables.Filter.ConfidenceThreshold,
			DedupeSimilarity:         s.Tunables.DedupeSimilarity,
		},
		Sinks: SinksConfig{
			Console:   ConsoleConfig{Enabled: true},
			WebSocket: WebSocketConfig{Path: DefaultOverlayPath, History: 8},
			NATS:      NATSConfig{Subject: sink.DefaultSubject},
		},
	}
}

// ApplyDefaults fills per-entry values that a YAML list replaces wholesale
// and so cannot inherit from [Default].
func ApplyDefaults(cfg *Config) {
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Kind == "" {
			src.Kind = SourcePortAudio
		}
		if src.Name == "" {
			src.Name = fmt.Sprintf("%s-%d", src.Kind, i)
		}
	}
	if cfg.Sinks.WebSocket.Path == "" {
		cfg.Sinks.WebSocket.Path = DefaultOverlayPath
	}
	if cfg.Sinks.NATS.Subject == "" {
		cfg.Sinks.NATS.Subject = sink.DefaultSubject
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
}

// Settings converts the audio, transcription and filter sections into the
// settings of a transcription session.
func (c *Config) Settings() transcribe.Settings {
	t := c.Transcription
	return transcribe.Settings{
		SampleRate:       c.Audio.SampleRate,
		FrameSize:        c.Audio.FrameSize,
		WindowSeconds:    c.Audio.WindowSeconds,
		OverlapSeconds:   c.Audio.OverlapSeconds,
		QueueCapacity:    c.Audio.QueueCapacity,
		PollInterval:     millis(c.Audio.PollIntervalMs),
		ReadRetryDelay:   millis(c.Audio.ReadRetryDelayMs),
		Language:         t.Language,
		BeamSize:         t.BeamSize,
		UsePreviousText:  t.UsePreviousText,
		ContextSentences: t.ContextSentences,
		Errors: transcribe.ErrorPolicy{
			MaxConsecutive: t.MaxConsecutiveErrors,
			RetryDelay:     millis(t.ErrorRetryDelayMs),
			Cooldown:       millis(t.ErrorCooldownMs),
			ReportInterval: millis(t.ErrorReportIntervalMs),
		},
		Tunables:      c.Filter.Tunables(),
		StatsInterval: millis(c.Server.StatsIntervalMs),
	}
}

// Tunables converts the filter section into the hot-reloadable session
// settings.
func (f FilterConfig) Tunables() transcribe.Tunables {
	return transcribe.Tunables{
		Silence: transcribe.SilenceSettings{
			SkipSilence:   f.SilenceSkip,
			MinAudioLevel: f.MinAudioLevel,
			ResetContext:  f.ResetContextAfterSilence,
			ResetAfter:    time.Duration(f.MaxSilenceBeforeReset * float64(time.Second)),
		},
		Filter: transcribe.FilterSettings{
			DetectRepetitions:     f.DetectRepetitions,
			MaxRepetitions:        f.MaxRepetitions,
			HallucinationPatterns: append([]string(nil), f.HallucinationPatterns...),
			FilterShortPhrases:    f.FilterShortPhrases,
			MinTextLength:         f.MinTextLength,
			ConfidenceThreshold:   f.ConfidenceThreshold,
		},
		DedupeSimilarity: f.DedupeSimilarity,
	}
}

// SpeakerName returns the display name configured for source, or source
// itself.
func (c *Config) SpeakerName(source string) string {
	if name, ok := c.Sinks.Speakers[source]; ok && name != "" {
		return name
	}
	return source
}

func ms(d time.Duration) int { return int(d / time.Millisecond) }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

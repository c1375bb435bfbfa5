// Package config provides the configuration schema, loader, hot-reload
// watcher and factory registry for the subtitles service.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SourceKind selects the device implementation behind a source.
type SourceKind string

const (
	// SourcePortAudio captures a local input device.
	SourcePortAudio SourceKind = "portaudio"

	// SourceDiscord listens to a Discord voice channel.
	SourceDiscord SourceKind = "discord"

	// SourceWAV replays a WAV recording in real time.
	SourceWAV SourceKind = "wav"

	// SourceSilent produces only silence. Useful for dry runs.
	SourceSilent SourceKind = "silent"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourcePortAudio, SourceDiscord, SourceWAV, SourceSilent:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Sources       []SourceConfig      `yaml:"sources"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Filter        FilterConfig        `yaml:"filter"`
	Sinks         SinksConfig         `yaml:"sinks"`
}

// ServerConfig holds the status server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the status server (health, metrics,
	// overlay). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// StatsIntervalMs is the period of the per-source statistics log line.
	// Zero disables it.
	StatsIntervalMs int `yaml:"stats_interval_ms"`
}

// AudioConfig fixes the frame format and windowing shared by all sources.
type AudioConfig struct {
	SampleRate     int     `yaml:"sample_rate"`
	FrameSize      int     `yaml:"frame_size"`
	WindowSeconds  float64 `yaml:"window_seconds"`
	OverlapSeconds float64 `yaml:"overlap_seconds"`
	QueueCapacity  int     `yaml:"queue_capacity"`

	PollIntervalMs   int `yaml:"poll_interval_ms"`
	ReadRetryDelayMs int `yaml:"read_retry_delay_ms"`
}

// SourceConfig declares one audio input. Every source gets its own queue,
// session and rolling context.
type SourceConfig struct {
	// Name labels the source in logs, metrics and output. Must be unique.
	Name string `yaml:"name"`

	Kind SourceKind `yaml:"kind"`

	// Device selects a portaudio input by name substring. Empty means the
	// system default input.
	Device string `yaml:"device"`

	// Path is the WAV file replayed by a wav source.
	Path string `yaml:"path"`

	Discord DiscordConfig `yaml:"discord"`
}

// DiscordConfig locates the voice channel of a discord source.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`

	// OperatorRoleID limits /subtitles reset to members holding the role.
	// Empty allows every member.
	OperatorRoleID string `yaml:"operator_role_id"`
}

// EngineEntry is the configuration block of one transcription engine.
// The Name field is used to look up the constructor in the [Registry].
type EngineEntry struct {
	// Name selects the registered engine (e.g., "whisper-native", "openai").
	Name string `yaml:"name"`

	// Model is a model path for local engines or a model name for remote ones.
	Model string `yaml:"model"`

	// BaseURL overrides the engine's default endpoint.
	BaseURL string `yaml:"base_url"`

	APIKey string `yaml:"api_key"`

	// Options holds engine-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// TranscriptionConfig configures the engines and the decoding parameters.
type TranscriptionConfig struct {
	Engine EngineEntry `yaml:"engine"`

	// Fallbacks are tried in order when the primary engine fails.
	Fallbacks []EngineEntry `yaml:"fallbacks"`

	Language         string `yaml:"language"`
	BeamSize         int    `yaml:"beam_size"`
	UsePreviousText  bool   `yaml:"use_previous_text"`
	ContextSentences int    `yaml:"context_sentences"`

	MaxConsecutiveErrors  int `yaml:"max_consecutive_errors"`
	ErrorRetryDelayMs     int `yaml:"error_retry_delay_ms"`
	ErrorCooldownMs       int `yaml:"error_cooldown_ms"`
	ErrorReportIntervalMs int `yaml:"error_report_interval_ms"`
}

// FilterConfig holds the silence gate and text filter settings. All of it is
// hot-reloadable.
type FilterConfig struct {
	SilenceSkip              bool    `yaml:"silence_skip"`
	MinAudioLevel            float64 `yaml:"min_audio_level"`
	ResetContextAfterSilence bool    `yaml:"reset_context_after_silence"`

	// MaxSilenceBeforeReset is in seconds.
	MaxSilenceBeforeReset float64 `yaml:"max_silence_before_reset"`

	DetectRepetitions     bool     `yaml:"detect_repetitions"`
	MaxRepetitions        int      `yaml:"max_repetitions"`
	HallucinationPatterns []string `yaml:"hallucination_patterns"`
	FilterShortPhrases    bool     `yaml:"filter_short_phrases"`
	MinTextLength         int      `yaml:"min_text_length"`
	ConfidenceThreshold   float64  `yaml:"confidence_threshold"`

	// DedupeSimilarity drops outputs at least this similar to the previous
	// one. Zero disables it.
	DedupeSimilarity float64 `yaml:"dedupe_similarity"`
}

// SinksConfig selects where accepted transcriptions go.
type SinksConfig struct {
	// Speakers maps source names to display names.
	Speakers map[string]string `yaml:"speakers"`

	Console   ConsoleConfig   `yaml:"console"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	NATS      NATSConfig      `yaml:"nats"`
	Postgres  PostgresConfig  `yaml:"postgres"`
}

// ConsoleConfig configures the terminal transcript.
type ConsoleConfig struct {
	Enabled        bool `yaml:"enabled"`
	ShowTimestamps bool `yaml:"show_timestamps"`
}

// WebSocketConfig configures the overlay feed on the status server.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`

	// History is how many recent messages a new client receives.
	History int `yaml:"history"`

	// OriginPatterns lists additional allowed Origin hosts.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// NATSConfig configures transcript publishing. Empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// PostgresConfig configures the transcript log. Empty DSN disables it.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

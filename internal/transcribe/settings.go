// Package transcribe is the per-source transcription core.
//
// Every audio source gets a [FrameQueue] fed by a [CaptureWorker] and a
// [Session] that turns the queue into text: an [Assembler] cuts overlapping
// windows, the [SilenceGate] drops quiet windows and clears the rolling
// context after long pauses, the engine transcribes, the [Filter] cleans the
// text and gates it on confidence, and accepted text is appended to the
// source's [RollingContext] before it is emitted as a [Transcription].
//
// [Pipeline] runs the capture and transcription goroutines of every source
// under one errgroup and merges their output into a single channel.
package transcribe

import (
	"errors"
	"fmt"
	"time"
)

// Settings holds everything a source session needs. Construct it from the
// application config; [DefaultSettings] mirrors the documented defaults.
type Settings struct {
	SampleRate     int
	FrameSize      int
	WindowSeconds  float64
	OverlapSeconds float64
	QueueCapacity  int

	// PollInterval is how long the assembler sleeps while a window is
	// incomplete.
	PollInterval time.Duration

	// ReadRetryDelay is the pause after a transient capture error.
	ReadRetryDelay time.Duration

	Language         string
	BeamSize         int
	UsePreviousText  bool
	ContextSentences int

	Errors ErrorPolicy

	Tunables Tunables

	// StatsInterval is the period of the per-source statistics log line.
	// Zero disables it.
	StatsInterval time.Duration
}

// ErrorPolicy configures the engine failure back-off of a session.
type ErrorPolicy struct {
	MaxConsecutive int
	RetryDelay     time.Duration
	Cooldown       time.Duration
	ReportInterval time.Duration
}

// Tunables are the settings that may change while sessions run.
type Tunables struct {
	Silence SilenceSettings
	Filter  FilterSettings

	// DedupeSimilarity is the Jaro-Winkler similarity above which an output
	// is dropped as a repeat of the previous one. Zero disables it.
	DedupeSimilarity float64
}

// DefaultHallucinationPatterns are filler tokens the model tends to emit on
// noise.
var DefaultHallucinationPatterns = []string{"¿eh?", "eh", "umm", "hmm", "uh", "ah", "oh", "este", "em", "mm"}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		SampleRate:       16000,
		FrameSize:        1024,
		WindowSeconds:    3,
		OverlapSeconds:   1.5,
		QueueCapacity:    1000,
		PollInterval:     100 * time.Millisecond,
		ReadRetryDelay:   500 * time.Millisecond,
		Language:         "es",
		BeamSize:         5,
		UsePreviousText:  true,
		ContextSentences: 2,
		Errors: ErrorPolicy{
			MaxConsecutive: 10,
			RetryDelay:     500 * time.Millisecond,
			Cooldown:       2 * time.Second,
			ReportInterval: 5 * time.Second,
		},
		Tunables: Tunables{
			Silence: SilenceSettings{
				SkipSilence:   true,
				MinAudioLevel: 0.015,
				ResetContext:  true,
				ResetAfter:    5 * time.Second,
			},
			Filter: FilterSettings{
				DetectRepetitions:     true,
				MaxRepetitions:        3,
				HallucinationPatterns: append([]string(nil), DefaultHallucinationPatterns...),
				FilterShortPhrases:    false,
				MinTextLength:         1,
				ConfidenceThreshold:   0.4,
			},
		},
		StatsInterval: 60 * time.Second,
	}
}

// BufferFrames is the number of frames in one window:
// floor(sampleRate / frameSize * windowSeconds).
func (s Settings) BufferFrames() int {
	return framesFor(s.WindowSeconds, s.SampleRate, s.FrameSize)
}

// OverlapFrames is the number of frames shared by consecutive windows.
func (s Settings) OverlapFrames() int {
	return framesFor(s.OverlapSeconds, s.SampleRate, s.FrameSize)
}

func framesFor(seconds float64, sampleRate, frameSize int) int {
	if frameSize <= 0 {
		return 0
	}
	return int(float64(sampleRate) / float64(frameSize) * seconds)
}

// Validate reports every inconsistency in s.
func (s Settings) Validate() error {
	var errs []error
	if s.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("transcribe: sample rate must be positive, got %d", s.SampleRate))
	}
	if s.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("transcribe: frame size must be positive, got %d", s.FrameSize))
	}
	if s.BufferFrames() < 1 {
		errs = append(errs, fmt.Errorf("transcribe: window of %gs holds no whole frame", s.WindowSeconds))
	}
	if s.OverlapFrames() < 0 || (s.BufferFrames() > 0 && s.OverlapFrames() >= s.BufferFrames()) {
		errs = append(errs, fmt.Errorf("transcribe: overlap of %gs must be shorter than the window", s.OverlapSeconds))
	}
	if s.QueueCapacity < s.BufferFrames() {
		errs = append(errs, fmt.Errorf("transcribe: queue capacity %d cannot hold one window of %d frames", s.QueueCapacity, s.BufferFrames()))
	}
	if s.ContextSentences < 0 {
		errs = append(errs, errors.New("transcribe: context sentences must not be negative"))
	}
	if err := s.Tunables.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate reports every inconsistency in t.
func (t Tunables) Validate() error {
	var errs []error
	if t.Silence.MinAudioLevel < 0 || t.Silence.MinAudioLevel > 1 {
		errs = append(errs, fmt.Errorf("transcribe: min audio level %g outside [0, 1]", t.Silence.MinAudioLevel))
	}
	if t.Filter.MaxRepetitions < 1 {
		errs = append(errs, fmt.Errorf("transcribe: max repetitions must be at least 1, got %d", t.Filter.MaxRepetitions))
	}
	if t.Filter.ConfidenceThreshold < 0 || t.Filter.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcribe: confidence threshold %g outside [0, 1]", t.Filter.ConfidenceThreshold))
	}
	if t.DedupeSimilarity < 0 || t.DedupeSimilarity > 1 {
		errs = append(errs, fmt.Errorf("transcribe: dedupe similarity %g outside [0, 1]", t.DedupeSimilarity))
	}
	return errors.Join(errs...)
}

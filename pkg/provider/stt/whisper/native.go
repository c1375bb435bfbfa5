// This file contains the NativeEngine implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeEngine satisfies stt.Engine.
var _ stt.Engine = (*NativeEngine)(nil)

// NativeEngine implements stt.Engine using whisper.cpp Go bindings (CGO).
// The model is loaded once at startup and shared across all sources; every
// Transcribe call decodes in its own whisper context.
type NativeEngine struct {
	model    whisperlib.Model
	language string
	beamSize int
	threads  uint
}

// NativeOption is a functional option for configuring a NativeEngine.
type NativeOption func(*NativeEngine)

// WithNativeLanguage sets the default language code used when a request
// does not carry one. Defaults to "es".
func WithNativeLanguage(lang string) NativeOption {
	return func(e *NativeEngine) { e.language = lang }
}

// WithNativeBeamSize sets the default beam width used when a request does
// not carry one. Defaults to 5.
func WithNativeBeamSize(n int) NativeOption {
	return func(e *NativeEngine) { e.beamSize = n }
}

// WithNativeThreads sets the number of CPU threads per decode. Zero keeps
// the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(e *NativeEngine) { e.threads = n }
}

// NewNative creates a NativeEngine that loads the whisper.cpp model from the
// given file path. The caller must call Close when the engine is no longer
// needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeEngine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	e := &NativeEngine{
		model:    model,
		language: defaultLanguage,
		beamSize: defaultBeamSize,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name implements stt.Named.
func (e *NativeEngine) Name() string { return "whisper-native" }

// Close releases the whisper model.
func (e *NativeEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe decodes req.Samples with a fresh whisper context. The request
// prompt is passed as the initial prompt so the model continues the rolling
// context of the source.
func (e *NativeEngine) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	if len(req.Samples) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := e.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = e.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	beam := req.BeamSize
	if beam <= 0 {
		beam = e.beamSize
	}
	wctx.SetBeamSize(beam)
	if e.threads > 0 {
		wctx.SetThreads(e.threads)
	}
	if req.Prompt != "" {
		wctx.SetInitialPrompt(req.Prompt)
	}

	if err := wctx.Process(req.Samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts    []string
		segments []stt.Segment
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}

		probs := make([]float32, 0, len(segment.Tokens))
		for _, tok := range segment.Tokens {
			if wctx.IsText(tok) {
				probs = append(probs, tok.P)
			}
		}
		text := strings.TrimSpace(segment.Text)
		segments = append(segments, stt.Segment{
			Text:       text,
			Start:      segment.Start,
			End:        segment.End,
			AvgLogProb: avgLogProb(probs),
		})
		if text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Result{
		Text:     strings.Join(parts, " "),
		Segments: segments,
		Language: lang,
	}, nil
}

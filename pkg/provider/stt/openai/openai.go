// Package openai provides a speech-to-text engine backed by the OpenAI
// audio transcription API (or any server exposing the same endpoint).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio/wavfile"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
)

const (
	defaultModel      = oai.AudioModelWhisper1
	defaultSampleRate = 16000
)

// Compile-time assertion that Engine implements stt.Engine.
var _ stt.Engine = (*Engine)(nil)

// Engine implements stt.Engine using the OpenAI transcription endpoint with
// verbose_json output, which carries per-segment avg_logprob.
type Engine struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the engine.
type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage sets the default language when a request has none.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcription Engine.
func New(apiKey string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Engine{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
	}, nil
}

// Name implements stt.Named.
func (e *Engine) Name() string { return "openai" }

// Transcribe implements stt.Engine.
func (e *Engine) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Samples) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}

	f, err := wavfile.WriteTemp(req.Samples, rate)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai: %w", err)
	}
	defer wavfile.Remove(f)

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(f, "audio.wav", "audio/wav"),
		Model:          oai.AudioModel(e.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	lang := req.Language
	if lang == "" {
		lang = e.language
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai: transcribe: %w", err)
	}
	return parseVerbose(resp.Text, resp.RawJSON())
}

// verboseBody mirrors the verbose_json fields the typed SDK response does not
// expose.
type verboseBody struct {
	Language string `json:"language"`
	Segments []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		AvgLogProb float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// parseVerbose builds a Result from the response text and its raw JSON.
func parseVerbose(text, raw string) (stt.Result, error) {
	res := stt.Result{Text: strings.TrimSpace(text)}
	if raw == "" {
		return res, nil
	}
	var body verboseBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return stt.Result{}, fmt.Errorf("openai: parse verbose_json: %w", err)
	}
	res.Language = body.Language
	for _, s := range body.Segments {
		res.Segments = append(res.Segments, stt.Segment{
			Text:       strings.TrimSpace(s.Text),
			Start:      time.Duration(s.Start * float64(time.Second)),
			End:        time.Duration(s.End * float64(time.Second)),
			AvgLogProb: s.AvgLogProb,
		})
	}
	return res, nil
}

// Package whisper provides whisper.cpp-backed speech-to-text engines.
//
// Engine talks to a running whisper-server binary (POST /inference) and asks
// for verbose_json output so each segment's average log-probability reaches
// the confidence gate. NativeEngine links the model in-process through the
// CGO bindings and derives the same score from token probabilities.
//
// Usage:
//
//	e, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("es"),
//	)
//	res, err := e.Transcribe(ctx, stt.Request{Samples: window, Prompt: prev})
package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio/wavfile"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
)

const (
	defaultLanguage   = "es"
	defaultBeamSize   = 5
	defaultSampleRate = 16000
)

// Compile-time assertion that Engine implements stt.Engine.
var _ stt.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "small"). When empty the server uses whichever model it
// was started with; this is the default.
func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithLanguage sets the default language code sent to the server when a
// request does not carry one. Defaults to "es".
func WithLanguage(lang string) Option {
	return func(e *Engine) {
		e.language = lang
	}
}

// WithHTTPClient replaces the HTTP client. The default has a 30 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = c
	}
}

// Engine implements stt.Engine backed by a whisper.cpp HTTP server.
// It holds no per-call state and is safe for concurrent use.
type Engine struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Engine that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name implements stt.Named.
func (e *Engine) Name() string { return "whisper" }

// inferenceResponse is the verbose_json body returned by whisper-server.
type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		AvgLogProb float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe encodes req.Samples as a WAV file and POSTs it to the
// /inference endpoint as multipart/form-data.
func (e *Engine) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Samples) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}

	wavFile, err := wavfile.WriteTemp(req.Samples, rate)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	defer wavfile.Remove(wavFile)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(e.writeForm(mw, wavFile, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+"/inference", pr)
	if err != nil {
		_ = pr.Close()
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var body inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	res := stt.Result{Text: strings.TrimSpace(body.Text), Language: body.Language}
	for _, s := range body.Segments {
		res.Segments = append(res.Segments, stt.Segment{
			Text:       strings.TrimSpace(s.Text),
			Start:      seconds(s.Start),
			End:        seconds(s.End),
			AvgLogProb: s.AvgLogProb,
		})
	}
	return res, nil
}

// writeForm streams the multipart body: the audio file followed by the
// decoding hints.
func (e *Engine) writeForm(mw *multipart.Writer, wavFile *os.File, req stt.Request) error {
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := io.Copy(fw, wavFile); err != nil {
		return fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = e.language
	}
	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"language", lang},
		{"model", e.model},
		{"prompt", req.Prompt},
	}
	if req.BeamSize > 0 {
		fields = append(fields, [2]string{"beam_size", strconv.Itoa(req.BeamSize)})
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	return mw.Close()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Package mock provides test doubles for the stt package interfaces.
//
// Use Engine to script engine responses and inspect the requests a caller
// made. Results and errors are consumed in order; once exhausted the last
// entry repeats.
//
// Example:
//
//	eng := &mock.Engine{Responses: []mock.Response{
//	    {Result: stt.Result{Text: "hola", Segments: []stt.Segment{{AvgLogProb: -0.1}}}},
//	    {Err: errors.New("timeout")},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
)

// Response is one scripted result of Engine.Transcribe.
type Response struct {
	Result stt.Result
	Err    error
}

// TranscribeCall records a single invocation of Engine.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is a copy of the request; Samples is cloned.
	Req stt.Request
}

// Engine is a mock implementation of stt.Engine.
type Engine struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock".
	NameResult string

	// Responses is the scripted sequence of results. An empty script yields a
	// zero Result.
	Responses []Response

	// Calls records every call to Transcribe.
	Calls []TranscribeCall

	pos int
}

// Name implements stt.Named.
func (e *Engine) Name() string {
	if e.NameResult == "" {
		return "mock"
	}
	return e.NameResult
}

// Transcribe records the call and returns the next scripted response.
func (e *Engine) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req.Samples = append([]float32(nil), req.Samples...)
	e.Calls = append(e.Calls, TranscribeCall{Ctx: ctx, Req: req})
	if len(e.Responses) == 0 {
		return stt.Result{}, nil
	}
	r := e.Responses[min(e.pos, len(e.Responses)-1)]
	e.pos++
	return r.Result, r.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// LastRequest returns the most recent request, or a zero Request.
func (e *Engine) LastRequest() stt.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Calls) == 0 {
		return stt.Request{}
	}
	return e.Calls[len(e.Calls)-1].Req
}

// Reset clears all recorded calls and rewinds the script. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = nil
	e.pos = 0
}

// Ensure Engine implements stt.Engine at compile time.
var (
	_ stt.Engine = (*Engine)(nil)
	_ stt.Named  = (*Engine)(nil)
)

// Package stt defines the Engine interface for speech-to-text backends.
//
// An engine wraps a batch transcription model (a local whisper.cpp model, a
// whisper-server instance or a hosted API) and exposes a uniform
// request/response call: one window of float samples in, the recognised text
// and its per-segment log-probabilities out. Confidence scoring, filtering
// and retry policy are the caller's business; engines only report what the
// model said.
//
// Implementations must be safe for concurrent use. Every audio source of the
// pipeline calls Transcribe from its own goroutine.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when a request carries no samples.
var ErrEmptyAudio = errors.New("stt: request has no audio samples")

// Engine is the abstraction over any speech-to-text backend.
type Engine interface {
	// Transcribe runs recognition on req.Samples and returns the result.
	//
	// An error means the call failed (network, model, decoding); a Result with
	// empty Text and no segments is a successful call that heard nothing.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// Named is implemented by engines that report a stable identifier for logs
// and metrics.
type Named interface {
	Name() string
}

// NameOf returns e's name when it implements [Named], or "stt" otherwise.
func NameOf(e Engine) string {
	if n, ok := e.(Named); ok {
		return n.Name()
	}
	return "stt"
}

package stt

import "time"

// Request is one window of audio to transcribe.
type Request struct {
	// Samples are mono float32 samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz. Zero means 16000.
	SampleRate int

	// Language is the ISO-639-1 code to recognise (e.g., "es"). Empty lets the
	// engine auto-detect, if supported.
	Language string

	// Prompt is prior text given to the model as decoding context. Empty means
	// no context.
	Prompt string

	// BeamSize is the beam-search width. Zero keeps the engine default.
	BeamSize int
}

// Duration is the wall-clock length of the request audio.
func (r Request) Duration() time.Duration {
	rate := r.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	return time.Duration(len(r.Samples)) * time.Second / time.Duration(rate)
}

// Result is the raw output of one engine call.
type Result struct {
	// Text is the concatenated transcription, untouched by any filtering.
	Text string

	// Segments carry per-segment quality scores. May be empty when the model
	// produced nothing.
	Segments []Segment

	// Language is the language the engine decoded with, when it reports one.
	Language string
}

// Segment is one decoded span of the transcription.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration

	// AvgLogProb is the mean natural-log token probability over the segment.
	AvgLogProb float64
}

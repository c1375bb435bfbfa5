package transcribe

import (
	"time"
)

// Reasons a window is skipped.
const (
	ReasonSilence       = "silence"
	ReasonEmpty         = "empty_audio"
	ReasonNoText        = "no_text"
	ReasonTrivial       = "trivial"
	ReasonLowConfidence = "low_confidence"
	ReasonDuplicate     = "duplicate"
)

// OutcomeKind classifies the result of processing one window.
type OutcomeKind int

const (
	// Accepted windows produced a transcription.
	Accepted OutcomeKind = iota

	// Skipped windows were filtered out. Skips are normal operation.
	Skipped

	// Failed windows hit an engine error.
	Failed
)

// String returns the lower-case name of k.
func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transcription is accepted text from one source, ready for display.
type Transcription struct {
	Source     string
	Text       string
	Confidence float64
	At         time.Time

	// Seq is the number of the window the text came from.
	Seq uint64
}

// Outcome is the result of [Session.Process].
type Outcome struct {
	Kind OutcomeKind

	// Reason explains a Skipped outcome.
	Reason string

	// Err is the engine error of a Failed outcome.
	Err error

	// Backoff is how long the caller should wait after a Failed outcome.
	Backoff time.Duration

	// Transcription is set for Accepted outcomes.
	Transcription Transcription

	// Raw is the unfiltered engine text, when the engine was called.
	Raw string

	Confidence float64
}

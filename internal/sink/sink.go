// Package sink delivers accepted transcriptions to display and storage
// surfaces.
//
// A [Dispatcher] consumes the pipeline's transcription channel, stamps each
// transcription into a [Message] and hands it to every configured [Sink]
// through a bounded per-sink queue. A slow or failing sink loses messages;
// it never stalls transcription.
package sink

import (
	"context"
	"time"
)

// Message is one transcription as seen by sinks and their clients.
type Message struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
	Seq        uint64    `json:"seq"`
}

// Sink receives messages. Deliver is called from a single goroutine per
// sink, in order.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, m Message) error
}

// Closer is implemented by sinks holding connections.
type Closer interface {
	Close() error
}

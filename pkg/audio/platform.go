// Package audio defines the capture-side abstractions shared by every audio
// input of the subtitles pipeline.
//
// The two primary abstractions are:
//
//   - [Device]: a configured but not yet opened input (a microphone, a
//     Discord voice channel, a WAV file).
//   - [Source]: an opened stream that yields fixed-length [AudioFrame]s.
//
// Device implementations live in adapter packages (audio/portaudio,
// audio/discord, audio/wavfile). The interfaces are intentionally narrow so
// the capture worker stays decoupled from device details.
package audio

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by [Source.Read] after [Source.Close] was called.
var ErrClosed = errors.New("audio: source closed")

// Device is an input that can be opened into a live [Source].
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Name identifies the device in logs, e.g. "default" or "guild/channel".
	Name() string

	// Open acquires the underlying hardware or connection. A returned error
	// means the device is unavailable; callers fall back to silence instead of
	// retrying.
	Open(ctx context.Context) (Source, error)
}

// Source delivers mono int16 frames of a fixed sample count.
//
// Read blocks until a frame is available or ctx is done. It returns io.EOF
// when the stream has ended for good (file exhausted, voice channel left);
// any other error is transient and the caller may retry.
type Source interface {
	Read(ctx context.Context) (AudioFrame, error)
	Close() error
}

// DeviceError describes a failed operation on a named device.
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio: %s %q: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

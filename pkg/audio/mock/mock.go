// Package mock provides in-memory implementations of [audio.Device] and
// [audio.Source] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Reads: []mock.Read{
//	    {Frame: audio.SilentFrame(1024, 16000, 0)},
//	    {Err: errors.New("overrun")},
//	}}
//	dev := &mock.Device{OpenResult: src}
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Read is one scripted result of [Source.Read].
type Read struct {
	Frame audio.AudioFrame
	Err   error
}

// Source is a mock implementation of [audio.Source] that replays Reads in
// order. Once the script is exhausted it returns io.EOF, or blocks until the
// context is done when Block is set.
type Source struct {
	mu sync.Mutex

	// Reads is the scripted sequence of results.
	Reads []Read

	// Block makes an exhausted source wait for ctx instead of returning io.EOF.
	Block bool

	// CloseError is returned by Close.
	CloseError error

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	pos int
}

// Read implements [audio.Source].
func (s *Source) Read(ctx context.Context) (audio.AudioFrame, error) {
	s.mu.Lock()
	s.CallCountRead++
	if s.pos < len(s.Reads) {
		r := s.Reads[s.pos]
		s.pos++
		s.mu.Unlock()
		return r.Frame, r.Err
	}
	block := s.Block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return audio.AudioFrame{}, ctx.Err()
	}
	return audio.AudioFrame{}, io.EOF
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// Closed reports whether Close was called at least once.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock".
	NameResult string

	// OpenResult is the [audio.Source] returned by Open.
	OpenResult audio.Source

	// OpenError is the error returned by Open.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Name implements [audio.Device].
func (d *Device) Name() string {
	if d.NameResult == "" {
		return "mock"
	}
	return d.NameResult
}

// Open implements [audio.Device]. Records the call and returns OpenResult / OpenError.
func (d *Device) Open(_ context.Context) (audio.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	return d.OpenResult, nil
}

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Device = (*Device)(nil)
)

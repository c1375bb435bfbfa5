// Package wavfile provides an [audio.Device] that replays a WAV recording as
// if it were a live input, plus WAV encoding helpers used by the HTTP
// transcription engines.
//
// The recording is downmixed and resampled to the pipeline format and sliced
// into fixed-size frames. With pacing enabled (the default) frames are
// released at the rate a microphone would produce them, so window timing and
// silence resets behave as they would live.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Compile-time interface assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Source = (*Source)(nil)
)

// Option configures a Device.
type Option func(*Device)

// WithFormat sets the output sample rate and frame size. Defaults to
// 16000 Hz and 1024 samples.
func WithFormat(sampleRate, frameSize int) Option {
	return func(d *Device) {
		d.sampleRate = sampleRate
		d.frameSize = frameSize
	}
}

// WithPacing toggles real-time pacing. Disabled pacing returns frames as
// fast as the caller reads them.
func WithPacing(on bool) Option {
	return func(d *Device) { d.paced = on }
}

// Device opens a WAV file as a frame source.
type Device struct {
	path       string
	sampleRate int
	frameSize  int
	paced      bool
}

// New returns a Device for the WAV file at path. The file is not touched
// until Open.
func New(path string, opts ...Option) *Device {
	d := &Device{
		path:       path,
		sampleRate: audio.DefaultSampleRate,
		frameSize:  audio.DefaultFrameSize,
		paced:      true,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name implements [audio.Device].
func (d *Device) Name() string { return d.path }

// Open implements [audio.Device]. It fails when the file is missing or is
// not a PCM WAV file.
func (d *Device) Open(_ context.Context) (audio.Source, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, &audio.DeviceError{Device: d.path, Op: "open", Err: err}
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		_ = f.Close()
		return nil, &audio.DeviceError{Device: d.path, Op: "open", Err: errors.New("not a valid WAV file")}
	}
	if dec.BitDepth != 8 && dec.BitDepth != 16 && dec.BitDepth != 24 && dec.BitDepth != 32 {
		_ = f.Close()
		return nil, &audio.DeviceError{Device: d.path, Op: "open", Err: fmt.Errorf("unsupported bit depth %d", dec.BitDepth)}
	}

	channels := int(dec.NumChans)
	return &Source{
		file:     f,
		dec:      dec,
		channels: channels,
		srcRate:  int(dec.SampleRate),
		shift:    int(dec.BitDepth) - 16,
		conv:     &audio.FormatConverter{Target: audio.Format{SampleRate: d.sampleRate, Channels: 1}},
		chunker:  audio.NewRechunker(d.frameSize, d.sampleRate),
		buf:      &goaudio.IntBuffer{Data: make([]int, d.frameSize*channels)},
		interval: audio.FrameDuration(d.frameSize, d.sampleRate),
		paced:    d.paced,
	}, nil
}

// Source streams frames decoded from a WAV file.
type Source struct {
	mu       sync.Mutex
	file     *os.File
	dec      *wav.Decoder
	channels int
	srcRate  int
	shift    int
	conv     *audio.FormatConverter
	chunker  *audio.Rechunker
	buf      *goaudio.IntBuffer
	pending  []audio.AudioFrame
	interval time.Duration
	paced    bool
	next     time.Time
	eof      bool
	closed   bool
}

// Read implements [audio.Source]. It returns io.EOF once the file is
// exhausted; a trailing partial frame is dropped.
func (s *Source) Read(ctx context.Context) (audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.AudioFrame{}, audio.ErrClosed
	}

	for len(s.pending) == 0 {
		if s.eof {
			return audio.AudioFrame{}, io.EOF
		}
		if err := s.fill(); err != nil {
			return audio.AudioFrame{}, err
		}
	}

	if s.paced {
		if err := s.wait(ctx); err != nil {
			return audio.AudioFrame{}, err
		}
	}
	f := s.pending[0]
	s.pending = s.pending[1:]
	return f, nil
}

// fill decodes one buffer worth of samples into pending frames.
func (s *Source) fill() error {
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		return fmt.Errorf("wavfile: decode: %w", err)
	}
	if n == 0 {
		s.eof = true
		return nil
	}

	pcm := make([]byte, n*audio.BytesPerSample)
	for i, v := range s.buf.Data[:n] {
		if s.shift > 0 {
			v >>= s.shift
		} else if s.shift < 0 {
			v = (v - 128) << 8
		}
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	channels := s.channels
	if channels > 2 {
		pcm = downmix(pcm, channels)
		channels = 1
	}
	frame := s.conv.Convert(audio.AudioFrame{Data: pcm, SampleRate: s.srcRate, Channels: channels})
	s.pending = append(s.pending, s.chunker.Push(frame.Data)...)
	return nil
}

// wait blocks until the nominal release time of the next frame.
func (s *Source) wait(ctx context.Context) error {
	now := time.Now()
	if s.next.IsZero() {
		s.next = now
	}
	if d := s.next.Sub(now); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	s.next = s.next.Add(s.interval)
	return nil
}

// Close implements [audio.Source]. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// downmix averages interleaved int16 PCM with more than two channels to mono.
func downmix(pcm []byte, channels int) []byte {
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int
		for c := range channels {
			idx := (i*channels + c) * 2
			sum += int(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
		}
		v := int16(sum / channels)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Package portaudio provides an [audio.Device] for local microphones via
// the PortAudio bindings.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Source = (*source)(nil)
)

// Option configures a Device.
type Option func(*Device)

// WithFormat sets the capture sample rate and frame size. Defaults to
// 16000 Hz and 1024 samples.
func WithFormat(sampleRate, frameSize int) Option {
	return func(d *Device) {
		d.sampleRate = sampleRate
		d.frameSize = frameSize
	}
}

// Device captures mono int16 audio from an input device. An empty name
// selects the system default input; otherwise the first input device whose
// name contains name (case-insensitive) is used.
type Device struct {
	name       string
	sampleRate int
	frameSize  int
}

// New returns a Device for the named input.
func New(name string, opts ...Option) *Device {
	d := &Device{
		name:       name,
		sampleRate: audio.DefaultSampleRate,
		frameSize:  audio.DefaultFrameSize,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name implements [audio.Device].
func (d *Device) Name() string {
	if d.name == "" {
		return "default"
	}
	return d.name
}

// Open initialises PortAudio and starts the input stream.
func (d *Device) Open(_ context.Context) (audio.Source, error) {
	if err := pa.Initialize(); err != nil {
		return nil, d.err("init", err)
	}

	buf := make([]int16, d.frameSize)
	stream, err := d.openStream(buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, d.err("start", err)
	}
	return &source{device: d, stream: stream, buf: buf}, nil
}

func (d *Device) openStream(buf []int16) (*pa.Stream, error) {
	if d.name == "" {
		s, err := pa.OpenDefaultStream(1, 0, float64(d.sampleRate), len(buf), buf)
		if err != nil {
			return nil, d.err("open", err)
		}
		return s, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, d.err("list", err)
	}
	for _, info := range devices {
		if info.MaxInputChannels < 1 || !strings.Contains(strings.ToLower(info.Name), strings.ToLower(d.name)) {
			continue
		}
		p := pa.HighLatencyParameters(info, nil)
		p.Input.Channels = 1
		p.SampleRate = float64(d.sampleRate)
		p.FramesPerBuffer = len(buf)
		s, err := pa.OpenStream(p, buf)
		if err != nil {
			return nil, d.err("open", err)
		}
		return s, nil
	}
	return nil, d.err("open", errors.New("no matching input device"))
}

func (d *Device) err(op string, err error) error {
	return &audio.DeviceError{Device: d.Name(), Op: op, Err: fmt.Errorf("portaudio: %w", err)}
}

type source struct {
	device *Device
	stream *pa.Stream
	buf    []int16

	mu     sync.Mutex
	closed bool
}

// Read blocks for one frame. Input overflows are reported as transient
// errors; the next Read continues the stream.
func (s *source) Read(ctx context.Context) (audio.AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return audio.AudioFrame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.AudioFrame{}, audio.ErrClosed
	}
	if err := s.stream.Read(); err != nil {
		return audio.AudioFrame{}, fmt.Errorf("portaudio: read: %w", err)
	}
	data := make([]byte, len(s.buf)*audio.BytesPerSample)
	for i, v := range s.buf {
		data[i*2] = byte(v)
		data[i*2+1] = byte(v >> 8)
	}
	return audio.AudioFrame{Data: data, SampleRate: s.device.sampleRate, Channels: 1}, nil
}

// Close stops the stream and releases PortAudio.
func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.stream.Stop(), s.stream.Close(), pa.Terminate())
}

package audio

import "time"

// Default capture format. Every source delivers frames in this shape unless
// configured otherwise.
const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 1024
	BytesPerSample    = 2
)

// AudioFrame is one fixed-length block of little-endian int16 PCM. Frames are
// the atomic unit moved from a capture device into a source's frame queue and
// are never modified after they are produced.
type AudioFrame struct {
	// PCM audio data, BytesPerSample bytes per sample.
	Data []byte

	// SampleRate in Hz (16000 for the transcription pipeline).
	SampleRate int

	// Channels is 1 for everything that reaches the frame queue.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of int16 samples per channel held by f.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return len(f.Data) / BytesPerSample
	}
	return len(f.Data) / (BytesPerSample * f.Channels)
}

// SilentFrame returns an all-zero mono frame of frameSize samples.
func SilentFrame(frameSize, sampleRate int, ts time.Duration) AudioFrame {
	return AudioFrame{
		Data:       make([]byte, frameSize*BytesPerSample),
		SampleRate: sampleRate,
		Channels:   1,
		Timestamp:  ts,
	}
}

// FrameDuration is the wall-clock time covered by one frame of frameSize
// samples at sampleRate.
func FrameDuration(frameSize, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frameSize) * time.Second / time.Duration(sampleRate)
}

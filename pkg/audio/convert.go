package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FormatConverter converts raw PCM to a target format. It logs once on the
// first format mismatch and drops misaligned data.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. If the source format already
// matches the target, the frame is returned unchanged.
// Conversion order: downmix first, then resample, so only one channel is
// interpolated.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%BytesPerSample != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Info("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	if frame.Channels == 2 && c.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
	}
	if frame.SampleRate != c.Target.SampleRate {
		pcm = ResampleMono16(pcm, frame.SampleRate, c.Target.SampleRate)
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := sampleAt(pcm, srcIdx)
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = sampleAt(pcm, srcIdx+1)
		}
		putSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

// MixInto adds src onto dst sample by sample, saturating at the int16 range.
// Only min(len(dst), len(src)) bytes are touched.
func MixInto(dst, src []byte) {
	n := min(len(dst), len(src)) / 2
	for i := range n {
		putSample(dst, i, clamp16(int32(sampleAt(dst, i))+int32(sampleAt(src, i))))
	}
}

// PCM16ToFloat32 converts little-endian int16 PCM to float32 samples in
// [-1, 1].
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(sampleAt(pcm, i)) / 32768.0
	}
	return out
}

// Float32ToPCM16 is the inverse of [PCM16ToFloat32]; values outside [-1, 1]
// are clipped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768.0)
		putSample(out, i, int16(max(math.MinInt16, min(math.MaxInt16, v))))
	}
	return out
}

// Rechunker slices a PCM byte stream of arbitrary packet sizes into frames
// of exactly frameSize mono samples.
type Rechunker struct {
	frameSize  int
	sampleRate int
	buf        []byte
	emitted    int
}

// NewRechunker returns a Rechunker producing frames of frameSize samples at
// sampleRate.
func NewRechunker(frameSize, sampleRate int) *Rechunker {
	return &Rechunker{frameSize: frameSize, sampleRate: sampleRate}
}

// Push appends pcm and returns every frame that became complete. Leftover
// samples stay buffered for the next call.
func (r *Rechunker) Push(pcm []byte) []AudioFrame {
	r.buf = append(r.buf, pcm...)
	frameBytes := r.frameSize * BytesPerSample
	var frames []AudioFrame
	for len(r.buf) >= frameBytes {
		data := make([]byte, frameBytes)
		copy(data, r.buf[:frameBytes])
		r.buf = r.buf[frameBytes:]
		frames = append(frames, AudioFrame{
			Data:       data,
			SampleRate: r.sampleRate,
			Channels:   1,
			Timestamp:  time.Duration(r.emitted) * FrameDuration(r.frameSize, r.sampleRate),
		})
		r.emitted++
	}
	return frames
}

// Pending reports the number of buffered bytes not yet emitted.
func (r *Rechunker) Pending() int { return len(r.buf) }

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, v int16) {
	pcm[i*2] = byte(v)
	pcm[i*2+1] = byte(v >> 8)
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

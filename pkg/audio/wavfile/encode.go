package wavfile

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitsPerSample = 16

// WriteTemp encodes float samples in [-1, 1] as a 16-bit mono WAV file in
// the OS temp directory and rewinds it for reading. The caller closes and
// removes the file.
func WriteTemp(samples []float32, sampleRate int) (*os.File, error) {
	f, err := os.CreateTemp("", "subtitles-*.wav")
	if err != nil {
		return nil, fmt.Errorf("wavfile: create temp: %w", err)
	}
	fail := func(err error) (*os.File, error) {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}

	enc := wav.NewEncoder(f, sampleRate, bitsPerSample, 1, 1)
	if err := enc.Write(Float32ToIntBuffer(samples, sampleRate)); err != nil {
		return fail(fmt.Errorf("wavfile: encode: %w", err))
	}
	if err := enc.Close(); err != nil {
		return fail(fmt.Errorf("wavfile: close encoder: %w", err))
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("wavfile: rewind: %w", err))
	}
	return f, nil
}

// Remove closes and deletes a file returned by [WriteTemp].
func Remove(f *os.File) {
	_ = f.Close()
	_ = os.Remove(f.Name())
}

// Float32ToIntBuffer converts normalised float samples to a 16-bit mono
// go-audio buffer.
func Float32ToIntBuffer(samples []float32, sampleRate int) *audio.IntBuffer {
	data := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32768.0)
		data[i] = int(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
	}
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitsPerSample,
	}
}

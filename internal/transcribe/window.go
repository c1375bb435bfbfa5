package transcribe

import (
	"context"
	"time"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
)

// Window is one analysis unit: BufferFrames consecutive frames, oldest first.
type Window struct {
	// Seq numbers windows of one source from 1.
	Seq uint64

	Frames     []audio.AudioFrame
	SampleRate int
}

// Samples concatenates the window's PCM and converts it to floats in [-1, 1].
func (w Window) Samples() []float32 {
	n := 0
	for _, f := range w.Frames {
		n += len(f.Data)
	}
	pcm := make([]byte, 0, n)
	for _, f := range w.Frames {
		pcm = append(pcm, f.Data...)
	}
	return audio.PCM16ToFloat32(pcm)
}

// Duration is the audio time covered by the window.
func (w Window) Duration() time.Duration {
	var samples int
	for _, f := range w.Frames {
		samples += f.Samples()
	}
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(w.SampleRate)
}

// Assembler cuts overlapping windows out of a [FrameQueue].
type Assembler struct {
	queue        *FrameQueue
	size         int
	advance      int
	pollInterval time.Duration
	sampleRate   int
	seq          uint64
}

// NewAssembler returns an Assembler producing windows of s.BufferFrames()
// frames, each starting s.BufferFrames()-s.OverlapFrames() frames after the
// previous one.
func NewAssembler(q *FrameQueue, s Settings) *Assembler {
	poll := s.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	size := s.BufferFrames()
	return &Assembler{
		queue:        q,
		size:         size,
		advance:      size - s.OverlapFrames(),
		pollInterval: poll,
		sampleRate:   s.SampleRate,
	}
}

// TryNext returns the next window if enough frames are queued.
func (a *Assembler) TryNext() (Window, bool) {
	frames, ok := a.queue.Window(a.size, a.advance)
	if !ok {
		return Window{}, false
	}
	a.seq++
	return Window{Seq: a.seq, Frames: frames, SampleRate: a.sampleRate}, true
}

// Next blocks until a full window is available or ctx is done.
func (a *Assembler) Next(ctx context.Context) (Window, error) {
	for {
		if w, ok := a.TryNext(); ok {
			return w, nil
		}
		if err := sleep(ctx, a.pollInterval); err != nil {
			return Window{}, err
		}
	}
}

// sleep waits d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

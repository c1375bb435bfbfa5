package transcribe

import (
	"encoding/binary"
	"time"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
)

// testSettings returns small windows (4 frames of 160 samples, overlap 2)
// so tests do not need thousands of frames.
func testSettings() Settings {
	s := DefaultSettings()
	s.SampleRate = 16000
	s.FrameSize = 160
	s.WindowSeconds = 0.04
	s.OverlapSeconds = 0.02
	s.QueueCapacity = 32
	s.PollInterval = time.Millisecond
	s.ReadRetryDelay = time.Millisecond
	s.Errors.RetryDelay = time.Millisecond
	s.Errors.Cooldown = 2 * time.Millisecond
	s.StatsInterval = 0
	return s
}

// toneFrame returns a frame whose samples alternate between +amp and -amp.
func toneFrame(size int, amp int16) audio.AudioFrame {
	data := make([]byte, size*audio.BytesPerSample)
	for i := range size {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return audio.AudioFrame{Data: data, SampleRate: 16000, Channels: 1}
}

// window builds a window of n frames at the given amplitude.
func window(seq uint64, n, size int, amp int16) Window {
	frames := make([]audio.AudioFrame, n)
	for i := range frames {
		frames[i] = toneFrame(size, amp)
	}
	return Window{Seq: seq, Frames: frames, SampleRate: 16000}
}

// result builds an engine result whose confidence is exp(logprob).
func result(text string, logprob float64) stt.Result {
	return stt.Result{Text: text, Segments: []stt.Segment{{Text: text, AvgLogProb: logprob}}}
}

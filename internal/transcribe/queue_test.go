package transcribe

import (
	"sync"
	"testing"
	"time"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
)

func stamped(i int) audio.AudioFrame {
	return audio.AudioFrame{Data: []byte{0, 0}, SampleRate: 16000, Channels: 1, Timestamp: time.Duration(i)}
}

func TestFrameQueue_DropsOldest(t *testing.T) {
	t.Parallel()
	q := NewFrameQueue(1000)

	var dropped int
	for i := range 1500 {
		if q.Push(stamped(i)) {
			dropped++
		}
	}
	if dropped != 500 {
		t.Errorf("dropped = %d, want 500", dropped)
	}
	if q.Len() != 1000 {
		t.Fatalf("Len = %d, want 1000", q.Len())
	}
	frames, ok := q.Window(1000, 1000)
	if !ok {
		t.Fatal("Window(1000) not available")
	}
	if frames[0].Timestamp != 500 || frames[999].Timestamp != 1499 {
		t.Errorf("kept frames %d..%d, want 500..1499", frames[0].Timestamp, frames[999].Timestamp)
	}
	st := q.Stats()
	if st.Produced != 1500 || st.Dropped != 500 || st.Consumed != 1000 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFrameQueue_WindowOverlap(t *testing.T) {
	t.Parallel()
	q := NewFrameQueue(16)
	for i := range 6 {
		q.Push(stamped(i))
	}

	first, ok := q.Window(4, 2)
	if !ok {
		t.Fatal("first window not available")
	}
	second, ok := q.Window(4, 2)
	if !ok {
		t.Fatal("second window not available")
	}
	if first[2].Timestamp != second[0].Timestamp || first[3].Timestamp != second[1].Timestamp {
		t.Errorf("windows do not share two frames: %v / %v", first, second)
	}
	if _, ok := q.Window(4, 2); ok {
		t.Error("third window available with only 2 frames queued")
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2", q.Len())
	}
}

func TestFrameQueue_ShortWindowLeavesQueue(t *testing.T) {
	t.Parallel()
	q := NewFrameQueue(8)
	q.Push(stamped(0))
	if _, ok := q.Window(2, 2); ok {
		t.Fatal("window returned with one frame queued")
	}
	if q.Len() != 1 || q.Stats().Consumed != 0 {
		t.Fatalf("queue changed by short read: len=%d stats=%+v", q.Len(), q.Stats())
	}
}

func TestFrameQueue_LenInvariantUnderConcurrency(t *testing.T) {
	t.Parallel()
	q := NewFrameQueue(64)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 5000 {
			q.Push(stamped(i))
		}
	}()
	go func() {
		defer wg.Done()
		for range 2000 {
			q.Window(8, 4)
		}
	}()
	wg.Wait()

	st := q.Stats()
	if got, want := uint64(q.Len()), st.Produced-st.Consumed-st.Dropped; got != want {
		t.Fatalf("Len = %d, produced-consumed-dropped = %d (%+v)", got, want, st)
	}
}

func TestNewFrameQueue_PanicsOnZeroCapacity(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewFrameQueue(0)
}

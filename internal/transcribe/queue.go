package transcribe

import (
	"sync"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
)

// FrameQueue is a bounded FIFO of audio frames shared by one capture worker
// and one session. When full, Push evicts the oldest frame so the producer
// never blocks.
//
// FrameQueue is safe for concurrent use.
type FrameQueue struct {
	mu    sync.Mutex
	buf   []audio.AudioFrame
	head  int
	size  int
	stats QueueStats
}

// QueueStats counts frames through a queue. At any time
// Len == Produced - Consumed - Dropped.
type QueueStats struct {
	Produced uint64
	Consumed uint64
	Dropped  uint64
}

// NewFrameQueue returns an empty queue holding at most capacity frames.
// It panics if capacity is not positive.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		panic("transcribe: frame queue capacity must be positive")
	}
	return &FrameQueue{buf: make([]audio.AudioFrame, capacity)}
}

// Push appends f and reports whether the oldest frame was evicted to make
// room for it.
func (q *FrameQueue) Push(f audio.AudioFrame) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stats.Produced++
	if q.size == len(q.buf) {
		q.buf[q.head] = audio.AudioFrame{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.stats.Dropped++
		dropped = true
	}
	q.buf[(q.head+q.size)%len(q.buf)] = f
	q.size++
	return dropped
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int { return len(q.buf) }

// Window copies the n oldest frames and then dequeues advance of them, all
// under one lock. It returns false, leaving the queue untouched, when fewer
// than n frames are queued. advance is clamped to [0, n].
func (q *FrameQueue) Window(n, advance int) ([]audio.AudioFrame, bool) {
	if n <= 0 {
		return nil, false
	}
	advance = max(0, min(advance, n))

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size < n {
		return nil, false
	}
	out := make([]audio.AudioFrame, n)
	for i := range n {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	for range advance {
		q.buf[q.head] = audio.AudioFrame{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
	}
	q.stats.Consumed += uint64(advance)
	return out, true
}

// Stats returns a snapshot of the queue counters.
func (q *FrameQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

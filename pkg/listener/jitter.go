// ABOUTME: Sequence-ordered jitter buffer for relayed audio packets
// ABOUTME: Reorders by wrap-aware sequence number and drops packets behind the play cursor
package listener

import (
	"container/heap"

	"github.com/Sendspin/micrelay/pkg/audio"
)

// JitterStats tracks jitter buffer metrics
type JitterStats struct {
	Received int64
	Played   int64
	Late     int64 // arrived after their slot was played
	Lost     int64 // sequence gaps skipped at playback
	Resyncs  int64 // sequence jumps treated as a new stream
}

// MinResyncDistance is the smallest sequence jump treated as a restarted
// stream rather than reordering or loss
const MinResyncDistance = 256

// JitterBuffer holds Depth packets before releasing the earliest one.
// Not safe for concurrent use.
type JitterBuffer struct {
	queue   *bufferQueue
	depth   int
	resync  uint16
	next    uint16
	started bool

	stats JitterStats
}

// NewJitterBuffer creates a jitter buffer that releases audio once depth
// packets are queued
func NewJitterBuffer(depth int) *JitterBuffer {
	if depth < 1 {
		depth = 1
	}
	q := &bufferQueue{}
	heap.Init(q)

	resync := 2 * depth
	if resync < MinResyncDistance {
		resync = MinResyncDistance
	}
	if resync > 1<<14 {
		resync = 1 << 14
	}
	return &JitterBuffer{queue: q, depth: depth, resync: uint16(resync)}
}

// seqBefore reports whether a precedes b with 16-bit wraparound
func seqBefore(a, b uint16) bool {
	return int16(a-b) < 0
}

// Push queues buf. It returns false when buf is a little behind the play
// cursor. A packet far behind the cursor starts a new stream, as after a
// device reboot, and queued audio from the old stream is discarded.
func (j *JitterBuffer) Push(buf audio.Buffer) bool {
	j.stats.Received++
	if j.started && seqBefore(buf.Sequence, j.next) {
		if j.next-buf.Sequence <= j.resync {
			j.stats.Late++
			return false
		}
		j.stats.Resyncs++
		j.Reset()
	}
	heap.Push(j.queue, buf)
	return true
}

// Pop releases the earliest buffer once the queue holds depth packets
func (j *JitterBuffer) Pop() (audio.Buffer, bool) {
	if j.queue.Len() < j.depth {
		return audio.Buffer{}, false
	}
	return j.take()
}

// Drain releases every queued buffer in order
func (j *JitterBuffer) Drain() []audio.Buffer {
	out := make([]audio.Buffer, 0, j.queue.Len())
	for {
		buf, ok := j.take()
		if !ok {
			return out
		}
		out = append(out, buf)
	}
}

// take pops the earliest buffer, discarding duplicates of played slots
func (j *JitterBuffer) take() (audio.Buffer, bool) {
	for j.queue.Len() > 0 {
		buf := heap.Pop(j.queue).(audio.Buffer)
		if j.started && seqBefore(buf.Sequence, j.next) {
			j.stats.Late++
			continue
		}
		if j.started && buf.Sequence != j.next {
			if gap := buf.Sequence - j.next; gap > j.resync {
				j.stats.Resyncs++
			} else {
				j.stats.Lost += int64(gap)
			}
		}
		j.started = true
		j.next = buf.Sequence + 1
		j.stats.Played++
		return buf, true
	}
	return audio.Buffer{}, false
}

// Reset forgets the play cursor, for a new connection
func (j *JitterBuffer) Reset() {
	j.queue.items = nil
	j.started = false
	j.next = 0
}

// Len returns the number of queued buffers
func (j *JitterBuffer) Len() int {
	return j.queue.Len()
}

// Stats returns jitter buffer statistics
func (j *JitterBuffer) Stats() JitterStats {
	return j.stats
}

// bufferQueue is a priority queue of buffers by sequence number
type bufferQueue struct {
	items []audio.Buffer
}

// Implement heap.Interface
func (q *bufferQueue) Len() int { return len(q.items) }

func (q *bufferQueue) Less(i, j int) bool {
	return seqBefore(q.items[i].Sequence, q.items[j].Sequence)
}

func (q *bufferQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *bufferQueue) Push(x interface{}) {
	q.items = append(q.items, x.(audio.Buffer))
}

func (q *bufferQueue) Pop() interface{} {
	n := len(q.items)
	item := q.items[n-1]
	q.items = q.items[:n-1]
	return item
}

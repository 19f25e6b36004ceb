package audio

import (
	"sync"
	"time"
)

// DefaultFrameBufferCapacity is the frame count a session buffer holds when
// no explicit capacity is configured.
const DefaultFrameBufferCapacity = 100

// FrameBuffer is a bounded FIFO of raw audio frames for one streaming
// session. It supports exactly one concurrent producer (the transport
// receive loop) and one concurrent consumer (the recognition worker).
// A push into a full buffer evicts the single oldest frame so the producer
// never blocks.
type FrameBuffer struct {
	mu       sync.Mutex
	frames   [][]byte
	capacity int
	closed   bool

	// Consumer wake-up. Buffered so a producer never blocks on signaling.
	signal chan struct{}

	// Statistics
	pushed  uint64
	evicted uint64
	popped  uint64
}

// PushResult reports what happened to a submitted frame.
type PushResult struct {
	Accepted bool // frame was admitted to the buffer
	Evicted  bool // the oldest frame was evicted to make room
}

// FrameBufferStats is a snapshot of buffer counters for monitoring.
type FrameBufferStats struct {
	Capacity int    `json:"capacity"`
	Length   int    `json:"length"`
	Pushed   uint64 `json:"pushed"`
	Evicted  uint64 `json:"evicted"`
	Popped   uint64 `json:"popped"`
}

// NewFrameBuffer creates a frame buffer with the given capacity.
// Non-positive capacities fall back to DefaultFrameBufferCapacity.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultFrameBufferCapacity
	}
	return &FrameBuffer{
		frames:   make([][]byte, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Push admits a frame without blocking. When the buffer is full the oldest
// frame is evicted to make room. The frame is copied; callers may reuse the
// backing slice. Pushing into a closed buffer is a no-op.
func (b *FrameBuffer) Push(frame []byte) PushResult {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return PushResult{}
	}

	var result PushResult
	if len(b.frames) >= b.capacity {
		copy(b.frames, b.frames[1:])
		b.frames = b.frames[:len(b.frames)-1]
		b.evicted++
		result.Evicted = true
	}

	owned := make([]byte, len(frame))
	copy(owned, frame)
	b.frames = append(b.frames, owned)
	b.pushed++
	result.Accepted = true
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}

	return result
}

// Pop removes and returns the oldest frame, waiting up to timeout for one to
// arrive. It returns false when the wait expired or the buffer was closed
// while empty.
func (b *FrameBuffer) Pop(timeout time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(timeout)

	for {
		b.mu.Lock()
		if len(b.frames) > 0 {
			frame := b.frames[0]
			copy(b.frames, b.frames[1:])
			b.frames = b.frames[:len(b.frames)-1]
			b.popped++
			b.mu.Unlock()
			return frame, true
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return nil, false
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}

		timer := time.NewTimer(remaining)
		select {
		case <-b.signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Cap returns the configured capacity.
func (b *FrameBuffer) Cap() int {
	return b.capacity
}

// Drain discards all buffered frames and returns how many were dropped.
func (b *FrameBuffer) Drain() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.frames)
	b.frames = b.frames[:0]
	return n
}

// Close marks the buffer closed and wakes a waiting consumer. Buffered
// frames remain available to Pop until exhausted.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of buffer counters.
func (b *FrameBuffer) Stats() FrameBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return FrameBufferStats{
		Capacity: b.capacity,
		Length:   len(b.frames),
		Pushed:   b.pushed,
		Evicted:  b.evicted,
		Popped:   b.popped,
	}
}

// Package buffer provides the bounded resume buffer used to replay recent
// terminal output to reconnecting clients.
package buffer

import (
	"sync"
)

// ResumeBuffer is a thread-safe circular buffer that retains the most recent
// output of a terminal up to a fixed capacity. It additionally tracks the
// cumulative number of bytes ever written, so a reconnecting client that
// remembers the offset it last saw can replay only the missed suffix.
type ResumeBuffer struct {
	mu       sync.RWMutex
	data     []byte
	capacity int

	// total is the cumulative byte count written since creation. The
	// retained window covers offsets [total-len(data), total).
	total uint64
}

// NewResumeBuffer creates a ResumeBuffer with the given capacity.
// A non-positive capacity defaults to 1.
func NewResumeBuffer(capacity int) *ResumeBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ResumeBuffer{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Write appends data, discarding the oldest bytes once capacity is exceeded.
// It never fails; the return values satisfy io.Writer.
func (b *ResumeBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += uint64(len(p))

	if len(p) >= b.capacity {
		b.data = append(b.data[:0], p[len(p)-b.capacity:]...)
		return len(p), nil
	}

	if overflow := len(b.data) + len(p) - b.capacity; overflow > 0 {
		b.data = append(b.data[:copy(b.data, b.data[overflow:])], p...)
	} else {
		b.data = append(b.data, p...)
	}

	return len(p), nil
}

// Bytes returns a copy of the retained window.
func (b *ResumeBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.data) == 0 {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Since returns a copy of all retained bytes at or after the given
// cumulative offset. If the offset predates the retained window the whole
// window is returned; if it is at or past the end, Since returns nil.
func (b *ResumeBuffer) Since(offset uint64) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if offset >= b.total || len(b.data) == 0 {
		return nil
	}

	start := b.total - uint64(len(b.data))
	skip := 0
	if offset > start {
		skip = int(offset - start)
	}

	out := make([]byte, len(b.data)-skip)
	copy(out, b.data[skip:])
	return out
}

// Offset returns the cumulative number of bytes written so far.
func (b *ResumeBuffer) Offset() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Len returns the number of bytes currently retained.
func (b *ResumeBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Cap returns the buffer capacity.
func (b *ResumeBuffer) Cap() int {
	return b.capacity
}

package audio

import (
	"sync"
)

// RingBuffer is a thread-safe circular byte buffer used to smooth the
// handoff between network delivery and the playback device. Writes that
// exceed capacity overwrite the oldest data.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []byte
	size     int
	readPos  int
	writePos int
	count    int
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write appends data, overwriting the oldest bytes when full.
// Returns the number of bytes written.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(data) > rb.size {
		// Keep only the newest window.
		data = data[len(data)-rb.size:]
	}

	for _, b := range data {
		rb.buf[rb.writePos] = b
		rb.writePos = (rb.writePos + 1) % rb.size
		if rb.count == rb.size {
			rb.readPos = (rb.readPos + 1) % rb.size
		} else {
			rb.count++
		}
	}
	return len(data)
}

// Read fills p with buffered bytes and returns how many were copied.
// When the buffer holds less than len(p), the shortfall is zero-filled
// so the playback device never starves on partial reads.
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n > rb.count {
		n = rb.count
	}

	for i := 0; i < n; i++ {
		p[i] = rb.buf[rb.readPos]
		rb.readPos = (rb.readPos + 1) % rb.size
	}
	rb.count -= n

	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return n
}

// Len returns the number of buffered bytes.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Reset discards all buffered data.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos = 0
	rb.writePos = 0
	rb.count = 0
}

// Package audio provides sample buffering, PCM helpers and capture sources.
package audio

import (
	"sync"
	"sync/atomic"
)

// RingBuffer is a fixed-capacity FIFO of float32 samples shared between
// the capture callback (single writer) and the capture stage (single reader).
//
// Write never blocks and never overwrites unread samples: when the buffer
// is full the excess is dropped and counted. One slot of the backing array
// is kept free so that read == write always means empty.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []float32
	read    int
	write   int
	dropped atomic.Uint64
}

// NewRingBuffer creates a buffer that holds up to capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]float32, capacity+1)}
}

// NewRingBufferForDuration sizes a buffer for seconds of mono audio.
func NewRingBufferForDuration(sampleRate int, seconds float64) *RingBuffer {
	return NewRingBuffer(int(float64(sampleRate) * seconds))
}

// Capacity returns the number of samples the buffer can hold.
func (r *RingBuffer) Capacity() int {
	return len(r.buf) - 1
}

// Available returns the number of samples ready to read.
func (r *RingBuffer) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.availableLocked()
}

func (r *RingBuffer) availableLocked() int {
	return (r.write - r.read + len(r.buf)) % len(r.buf)
}

// Write appends samples and returns how many were stored. Samples that do
// not fit are dropped.
func (r *RingBuffer) Write(samples []float32) int {
	if len(samples) == 0 {
		return 0
	}

	r.mu.Lock()
	free := r.Capacity() - r.availableLocked()
	n := min(len(samples), free)

	first := min(n, len(r.buf)-r.write)
	copy(r.buf[r.write:], samples[:first])
	copy(r.buf, samples[first:n])
	r.write = (r.write + n) % len(r.buf)
	r.mu.Unlock()

	if n < len(samples) {
		r.dropped.Add(uint64(len(samples) - n))
	}
	return n
}

// Read removes and returns up to max samples in FIFO order.
func (r *RingBuffer) Read(max int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(max, r.availableLocked())
	if n <= 0 {
		return nil
	}

	out := make([]float32, n)
	first := min(n, len(r.buf)-r.read)
	copy(out, r.buf[r.read:r.read+first])
	copy(out[first:], r.buf[:n-first])
	r.read = (r.read + n) % len(r.buf)
	return out
}

// Reset discards all unread samples.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	r.read, r.write = 0, 0
	r.mu.Unlock()
}

// Dropped returns the total number of samples dropped on overflow.
func (r *RingBuffer) Dropped() uint64 {
	return r.dropped.Load()
}

// Package ringbuf implements the receive ring that sits between the UART
// reader and the AT response scanner.
//
// A RingBuffer has exactly one producer and one consumer. The producer only
// calls Push; the consumer calls Pop, Count and Reset. Indices are published
// atomically, so no lock is needed between the two sides.
package ringbuf

import (
	"errors"
	"sync/atomic"
)

// ErrEmpty is returned by Pop when no byte is available.
var ErrEmpty = errors.New("ringbuf: empty")

// RingBuffer is a fixed capacity circular byte buffer. One slot is always
// left unused so that equal indices mean empty: a buffer of size N holds at
// most N-1 bytes.
type RingBuffer struct {
	data      []byte
	read      atomic.Uint32
	write     atomic.Uint32
	overflows atomic.Uint64
}

// New returns a ring with size slots. Sizes below 2 are raised to 2.
func New(size int) *RingBuffer {
	if size < 2 {
		size = 2
	}
	return &RingBuffer{data: make([]byte, size)}
}

// Cap returns the number of slots, N.
func (rb *RingBuffer) Cap() int {
	return len(rb.data)
}

// Count returns the number of unread bytes, (write - read) mod N.
func (rb *RingBuffer) Count() int {
	w := int(rb.write.Load())
	r := int(rb.read.Load())
	if w >= r {
		return w - r
	}
	return len(rb.data) + w - r
}

// IsFull reports whether the ring holds N-1 bytes.
func (rb *RingBuffer) IsFull() bool {
	return rb.Count() == len(rb.data)-1
}

// Push stores b. When the ring is full the byte is dropped, the overflow
// counter is incremented and false is returned.
func (rb *RingBuffer) Push(b byte) bool {
	w := rb.write.Load()
	next := w + 1
	if int(next) == len(rb.data) {
		next = 0
	}
	if next == rb.read.Load() {
		rb.overflows.Add(1)
		return false
	}
	rb.data[w] = b
	rb.write.Store(next)
	return true
}

// Pop removes and returns the oldest byte.
func (rb *RingBuffer) Pop() (byte, error) {
	r := rb.read.Load()
	if r == rb.write.Load() {
		return 0, ErrEmpty
	}
	b := rb.data[r]
	r++
	if int(r) == len(rb.data) {
		r = 0
	}
	rb.read.Store(r)
	return b, nil
}

// Reset discards every unread byte. It belongs to the consumer side.
func (rb *RingBuffer) Reset() {
	rb.read.Store(rb.write.Load())
}

// Overflows returns the number of bytes dropped by Push since creation.
func (rb *RingBuffer) Overflows() uint64 {
	return rb.overflows.Load()
}

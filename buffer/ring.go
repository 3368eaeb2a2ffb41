// Package buffer provides a fixed-capacity byte ring used as a building
// block for connection buffering.
package buffer

import "sync"

// Ring is a fixed-capacity circular byte buffer guarded by a single lock.
//
// Truncation is silent on both sides: Write stores only what fits and reports
// how much, Read returns only what is buffered. Callers that cannot tolerate
// dropped bytes must check the returned counts.
type Ring struct {
	mu   sync.Mutex
	buf  []byte
	size int
	head int
	tail int
}

// NewRing returns an empty ring holding at most capacity bytes.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the number of bytes
// stored.
func (r *Ring) Write(data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(data)
	if free := len(r.buf) - r.size; n > free {
		n = free
	}

	first := copy(r.buf[r.tail:], data[:n])
	copy(r.buf, data[first:n])
	r.tail = (r.tail + n) % len(r.buf)
	r.size += n
	return n
}

// Read removes up to len(dst) bytes into dst and returns the count.
func (r *Ring) Read(dst []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.copyOut(dst)
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
	return n
}

// Peek copies up to len(dst) bytes into dst without consuming them.
func (r *Ring) Peek(dst []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOut(dst)
}

// Skip discards up to n buffered bytes and returns the count discarded.
func (r *Ring) Skip(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.size {
		n = r.size
	}
	if n < 0 {
		n = 0
	}
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
	return n
}

// Clear empties the ring.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.size = 0
	r.head = 0
	r.tail = 0
}

// Capacity returns the fixed capacity in bytes.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Available returns the free space in bytes.
func (r *Ring) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.size
}

// IsEmpty reports whether no bytes are buffered.
func (r *Ring) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == 0
}

// IsFull reports whether the ring is at capacity.
func (r *Ring) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == len(r.buf)
}

// copyOut copies up to len(dst) bytes starting at head. Caller holds mu.
func (r *Ring) copyOut(dst []byte) int {
	n := len(dst)
	if n > r.size {
		n = r.size
	}

	first := r.head + n
	if first <= len(r.buf) {
		copy(dst, r.buf[r.head:first])
	} else {
		split := copy(dst, r.buf[r.head:])
		copy(dst[split:], r.buf[:n-split])
	}
	return n
}

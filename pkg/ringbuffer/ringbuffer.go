// Package ringbuffer contains a closable FIFO buffer for outbound datagrams.
package ringbuffer

import (
	"fmt"
	"sync"
)

// RingBuffer is a fixed-capacity FIFO of datagrams. Push and Pull never
// block; Wait exposes a channel that becomes readable when datagrams or
// closure arrive, so a consumer can select over the buffer alongside timers.
type RingBuffer struct {
	size       uint64
	mutex      sync.Mutex
	buffer     [][]byte
	readIndex  uint64
	writeIndex uint64
	closed     bool
	wait       chan struct{}
}

// New allocates a RingBuffer. size must be a non-zero power of two.
func New(size uint64) (*RingBuffer, error) {
	if size == 0 || (size&(size-1)) != 0 {
		return nil, fmt.Errorf("size must be a power of two")
	}

	return &RingBuffer{
		size:   size,
		buffer: make([][]byte, size),
		wait:   make(chan struct{}, 1),
	}, nil
}

// Close discards pending data and makes every following Push fail.
func (r *RingBuffer) Close() {
	r.mutex.Lock()

	r.closed = true

	for i := uint64(0); i < r.size; i++ {
		r.buffer[i] = nil
	}

	r.mutex.Unlock()

	r.signal()
}

// Push appends a datagram at the end of the buffer. It returns false when
// the buffer is full or closed.
func (r *RingBuffer) Push(data []byte) bool {
	r.mutex.Lock()

	if r.closed || r.buffer[r.writeIndex] != nil {
		r.mutex.Unlock()
		return false
	}

	r.buffer[r.writeIndex] = data
	r.writeIndex = (r.writeIndex + 1) % r.size

	r.mutex.Unlock()

	r.signal()

	return true
}

// Pull removes the oldest datagram from the buffer without blocking. ok is
// false when the buffer is empty.
func (r *RingBuffer) Pull() ([]byte, bool) {
	r.mutex.Lock()

	data := r.buffer[r.readIndex]
	if data == nil {
		r.mutex.Unlock()
		return nil, false
	}

	r.buffer[r.readIndex] = nil
	r.readIndex = (r.readIndex + 1) % r.size

	r.mutex.Unlock()

	return data, true
}

// Wait returns a channel that becomes readable after Push or Close. One
// signal may cover several pushed datagrams; consumers drain with Pull until
// it reports empty.
func (r *RingBuffer) Wait() <-chan struct{} {
	return r.wait
}

func (r *RingBuffer) signal() {
	select {
	case r.wait <- struct{}{}:
	default:
	}
}

package audio

import (
	"errors"
	"io"
	"sync"
)

// RingBuffer keeps the most recent bytes written to it. Writes never fail:
// once full, the oldest bytes are overwritten. The capture adapter uses it
// as a pre-roll so a segment includes the audio just before speech onset.
type RingBuffer struct {
	buffer []byte
	size   int
	start  int
	length int
	mu     sync.Mutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	if size < 0 {
		size = 0
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, dropping the oldest bytes when capacity is exceeded.
func (rb *RingBuffer) Write(data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return
	}
	if len(data) >= rb.size {
		copy(rb.buffer, data[len(data)-rb.size:])
		rb.start = 0
		rb.length = rb.size
		return
	}

	for _, b := range data {
		end := (rb.start + rb.length) % rb.size
		rb.buffer[end] = b
		if rb.length == rb.size {
			rb.start = (rb.start + 1) % rb.size
		} else {
			rb.length++
		}
	}
}

// Bytes returns a copy of the buffered bytes, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.length)
	for i := 0; i < rb.length; i++ {
		out[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	return out
}

// Len returns the number of buffered bytes
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.length
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.start = 0
	rb.length = 0
}

var (
	// ErrStreamAborted is returned by reads after Abort.
	ErrStreamAborted = errors.New("audio stream aborted")
	// ErrStreamClosed is returned by appends after Close or Abort.
	ErrStreamClosed = errors.New("audio stream closed")
)

// StreamBuffer is an append-only growable buffer with a blocking reader. A
// producer appends encoded audio as it arrives while a decoder reads it; the
// reader blocks until more data is appended, the stream is closed (reads
// drain then return io.EOF) or aborted (reads return ErrStreamAborted).
type StreamBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	data     []byte
	appended int
	closed   bool
	aborted  bool
}

func NewStreamBuffer() *StreamBuffer {
	b := &StreamBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Append adds data at the end of the stream.
func (b *StreamBuffer) Append(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.aborted {
		return ErrStreamClosed
	}
	b.data = append(b.data, p...)
	b.appended += len(p)
	b.cond.Broadcast()
	return nil
}

// Read blocks until at least one byte is available or the stream ends.
func (b *StreamBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.data) == 0 && !b.closed && !b.aborted {
		b.cond.Wait()
	}
	if b.aborted {
		return 0, ErrStreamAborted
	}
	if len(b.data) == 0 {
		return 0, io.EOF
	}

	n := copy(p, b.data)
	b.data = b.data[n:]
	if len(b.data) == 0 {
		b.data = nil
	}
	return n, nil
}

// Len returns the total number of bytes ever appended.
func (b *StreamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appended
}

// Buffered returns the number of appended bytes not yet read.
func (b *StreamBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Close marks the end of the stream.
func (b *StreamBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Abort discards pending data and fails blocked and future reads.
func (b *StreamBuffer) Abort() {
	b.mu.Lock()
	b.aborted = true
	b.data = nil
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Closed reports whether Close or Abort has been called.
func (b *StreamBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed || b.aborted
}

// Fixed-capacity byte buffer supporting concurrent append.
//
// Append reserves its span of the buffer with a single compare-and-swap on
// the size counter: the CAS only succeeds when the reservation still fits
// capacity, so no thread ever observes size temporarily inflated above
// capacity the way a naive fetch_add/fetch_sub rollback would allow, and no
// thread's payload is ever written outside its own reserved range.
package rankbuf

import (
	"fmt"
	"sync/atomic"
)

type Buffer struct {
	data     []byte
	capacity int
	size     atomic.Uint64
	blocked  atomic.Bool
}

// New allocates a buffer with the given fixed capacity. Capacity zero is a
// construction error.
func New(capacity int) (b *Buffer, err error) {
	if capacity <= 0 {
		err = fmt.Errorf("rankbuf: capacity must be greater than zero")
		return
	}
	b = &Buffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
	return
}

// Append commits p atomically into the buffer, or fails without side
// effects. Returns false iff the buffer is blocked or the write would
// exceed capacity.
func (b *Buffer) Append(p []byte) (success bool) {
	n := len(p)
	for {
		if b.blocked.Load() {
			return false
		}

		cur := b.size.Load()
		if cur+uint64(n) > uint64(b.capacity) {
			return false
		}

		if b.size.CompareAndSwap(cur, cur+uint64(n)) {
			copy(b.data[cur:cur+uint64(n)], p)
			return true
		}
		// another appender won the race for this reservation window, retry
	}
}

// Block prevents any further append from succeeding. Size is frozen at
// whatever was committed at the moment of the call.
func (b *Buffer) Block() {
	b.blocked.Store(true)
}

// Clear resets the buffer to empty and unblocked, ready for reuse from a
// pool free-list.
func (b *Buffer) Clear() {
	b.blocked.Store(false)
	b.size.Store(0)
}

// Data returns a view over the committed bytes. Callers must not read
// concurrently with an in-progress Append against the same range; once a
// buffer is blocked and handed off for transmission no further appends
// occur, so Data is safe to call at that point.
func (b *Buffer) Data() []byte {
	return b.data[:b.size.Load()]
}

func (b *Buffer) Size() int {
	return int(b.size.Load())
}

func (b *Buffer) Capacity() int {
	return b.capacity
}

func (b *Buffer) Blocked() bool {
	return b.blocked.Load()
}

package comm

import (
	"sync"
	"sync/atomic"

	"ranklink/internal/msgbuf"
)

// tagState holds everything the communication layer tracks per registered
// tag: the callback, the lazily-created buffer pool, and the two lifecycle
// counters (recvRemaining, outstandingSends) the comm thread and finish()
// synchronize on.
type tagState struct {
	tag      int
	callback ReceiveCallback

	accepting atomic.Bool
	flushed   atomic.Bool

	recvRemaining    atomic.Int64 // peers (including self) not yet end-of-streamed
	outstandingSends atomic.Int64 // sends enqueued but not yet confirmed complete

	buffersOnce sync.Once
	buffers     *msgbuf.Pool
	buffersErr  error
}

// ensureBuffers lazily creates the tag's per-destination pool on first use,
// first-writer-wins: concurrent callers all block on the same sync.Once and
// observe the same pool (or the same construction error).
func (ts *tagState) ensureBuffers(destinations, poolSize, bufferCapacity int) error {
	ts.buffersOnce.Do(func() {
		ts.buffers, ts.buffersErr = msgbuf.New(destinations, poolSize, bufferCapacity)
	})
	return ts.buffersErr
}

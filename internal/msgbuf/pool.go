// Per-destination active buffer pool (component C): tracks one active
// rankbuf.Buffer per destination, swapping in a fresh buffer from a
// free-list the moment the active one rejects an append, and recycling
// buffers back onto the free-list once their transmission completes.
//
// Swap-out is a compare-and-swap on the destination's active-id slot: the
// CAS winner receives the old (now full) buffer's id to hand to the send
// path, and every losing appender simply retries against whatever buffer
// is active after the swap. This avoids the source's "return the full id
// to exactly one caller" bookkeeping in favor of a single atomic op.
package msgbuf

import (
	"fmt"
	"ranklink/internal/rankbuf"
	"sync/atomic"
)

// BufferID identifies a buffer owned by a Pool. NoBuffer is the "none"
// sentinel: no swap occurred, or no buffer has ever been assigned to a
// destination yet.
type BufferID int32

const NoBuffer BufferID = -1

type entry struct {
	buf      *rankbuf.Buffer
	inFlight atomic.Bool // true once handed off for transmission, guards double release
}

type Pool struct {
	entries []entry
	active  []atomic.Int32 // one slot per destination, holds a BufferID
	free    chan BufferID

	Metrics *Metrics
}

// New allocates a pool sized poolSize (>= destinations, callers should add
// a margin per §4.3's "never observed empty in steady state" invariant),
// each buffer with the given fixed byte capacity.
func New(destinations, poolSize, bufferCapacity int) (p *Pool, err error) {
	if poolSize < destinations {
		err = fmt.Errorf("msgbuf: pool size %d smaller than destination count %d", poolSize, destinations)
		return
	}

	p = &Pool{
		entries: make([]entry, poolSize),
		active:  make([]atomic.Int32, destinations),
		free:    make(chan BufferID, poolSize),
		Metrics: &Metrics{},
	}
	for i := range p.active {
		p.active[i].Store(int32(NoBuffer))
	}
	for i := range p.entries {
		buf, bufErr := rankbuf.New(bufferCapacity)
		if bufErr != nil {
			err = bufErr
			return
		}
		p.entries[i].buf = buf
		p.free <- BufferID(i)
	}
	return
}

// Append forwards to the active buffer for dst. If that buffer is full or
// blocked, exactly one racing caller wins the swap to a fresh buffer and
// receives the old buffer's id in full; everyone else retries. The caller
// is expected to loop: on ok == false, enqueue full (if not NoBuffer) for
// transmission and call Append again.
func (p *Pool) Append(dst int, payload []byte) (ok bool, full BufferID) {
	full = NoBuffer

	for {
		id := BufferID(p.active[dst].Load())

		if id == NoBuffer {
			newID, acquireErr := p.acquire()
			if acquireErr != nil {
				return false, NoBuffer
			}
			if p.active[dst].CompareAndSwap(int32(NoBuffer), int32(newID)) {
				id = newID
			} else {
				p.release(newID)
				continue
			}
		}

		if p.entries[id].buf.Append(payload) {
			p.Metrics.Appends.Add(1)
			return true, NoBuffer
		}

		newID, acquireErr := p.acquire()
		if acquireErr != nil {
			p.Metrics.AppendRejected.Add(1)
			return false, NoBuffer
		}

		if p.active[dst].CompareAndSwap(int32(id), int32(newID)) {
			p.entries[id].buf.Block()
			p.entries[id].inFlight.Store(true)
			p.Metrics.Swaps.Add(1)
			return false, id
		}

		// lost the swap race; someone else already replaced the active buffer
		p.release(newID)
	}
}

// Release returns a drained, in-flight buffer to the free-list. Idempotent
// against double-release: a second call is a no-op.
func (p *Pool) Release(id BufferID) {
	if id == NoBuffer {
		return
	}
	if !p.entries[id].inFlight.CompareAndSwap(true, false) {
		return // already released
	}
	p.entries[id].buf.Clear()
	p.Metrics.Releases.Add(1)
	p.free <- id
}

// GetBackBuffer returns a read-only view of the committed bytes for id,
// used by the send path to copy into the transport.
func (p *Pool) GetBackBuffer(id BufferID) []byte {
	if id == NoBuffer {
		return nil
	}
	return p.entries[id].buf.Data()
}

// ActiveIDs returns the currently-active buffer id for every destination
// that has one, used at flush time to harvest partially-filled buffers.
func (p *Pool) ActiveIDs() (ids []BufferID) {
	for dst := range p.active {
		if id := BufferID(p.active[dst].Load()); id != NoBuffer {
			ids = append(ids, id)
		}
	}
	return
}

// TakeActive swaps out whatever buffer is active for dst (if any),
// unconditionally, for use at flush time to harvest a non-empty partial
// buffer even though it never hit capacity.
func (p *Pool) TakeActive(dst int) (id BufferID) {
	id = BufferID(p.active[dst].Load())
	if id == NoBuffer {
		return NoBuffer
	}
	if !p.active[dst].CompareAndSwap(int32(id), int32(NoBuffer)) {
		return NoBuffer // someone else already swapped it out
	}
	p.entries[id].buf.Block()
	p.entries[id].inFlight.Store(true)
	return id
}

func (p *Pool) acquire() (id BufferID, err error) {
	id, ok := <-p.free
	if !ok {
		err = fmt.Errorf("msgbuf: free-list closed")
	}
	return
}

func (p *Pool) release(id BufferID) {
	p.free <- id
}

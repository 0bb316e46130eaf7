package queue

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
)

// New creates a queue with the given fixed capacity (must be a non-zero
// power of two). minCapacity/maxCapacity bound ScaleCapacity when adaptive sizing is
// enabled; pass equal values to keep the capacity fixed for the lifetime of
// the queue.
func New[T any](capacity uint64, minCapacity, maxCapacity int) (q *Queue[T], err error) {
	inst, err := newInstance[T](capacity)
	if err != nil {
		return
	}

	q = &Queue[T]{minCapacity: minCapacity, maxCapacity: maxCapacity}
	q.active.Store(inst)
	q.readFrom.Store(inst)
	q.migrateCh.Store(make(chan struct{}, 1))
	q.closedCh = make(chan struct{})
	return
}

func newInstance[T any](capacity uint64) (inst *instance[T], err error) {
	if capacity == 0 {
		err = fmt.Errorf("queue: capacity must be greater than zero")
		return
	}
	if capacity&(capacity-1) != 0 {
		err = fmt.Errorf("queue: capacity must be a power of two, got %d", capacity)
		return
	}

	buf := make([]cell[T], capacity)
	for i := range buf {
		buf[i].seq.Store(uint64(i))
	}

	inst = &instance[T]{
		Capacity: int(capacity),
		mask:     capacity - 1,
		buf:      buf,
		notEmpty: make(chan struct{}, 1),
		Metrics:  &MetricStorage{},
	}
	return
}

// TryPush attempts to reserve and publish a slot without blocking. It fails
// immediately if the queue is closed or momentarily full.
func (q *Queue[T]) TryPush(value T) (success bool) {
	if q.closed.Load() {
		return false
	}

	inst := q.currentWriteInstance()
	inst.Metrics.PushAttempts.Add(1)

	var pos uint64
	var c *cell[T]
	for {
		pos = inst.tail.Load()
		c = &inst.buf[pos&inst.mask]
		seq := c.seq.Load()

		switch {
		case seq == pos:
			if inst.tail.CompareAndSwap(pos, pos+1) {
				goto reserved
			}
			inst.Metrics.PushCASRetries.Add(1)
		case seq < pos:
			inst.Metrics.PushFull.Add(1)
			return false
		default:
			inst.Metrics.PushSeqAhead.Add(1)
			runtime.Gosched()
		}
	}

reserved:
	c.data = value
	c.seq.Store(pos + 1)
	inst.Metrics.Depth.Add(1)
	inst.Metrics.PushSuccess.Add(1)

	select {
	case inst.notEmpty <- struct{}{}:
	default:
	}
	return true
}

// WaitAndPush retries TryPush until it succeeds, the context is cancelled,
// or the queue is closed. Closing never blocks a waiter indefinitely: it
// returns failure as soon as the closed bit is observed.
func (q *Queue[T]) WaitAndPush(ctx context.Context, value T) (success bool) {
	for {
		if q.TryPush(value) {
			return true
		}
		if q.closed.Load() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		default:
			runtime.Gosched()
		}
	}
}

// TryPop removes and returns an element if one is immediately available.
func (q *Queue[T]) TryPop() (out T, success bool) {
	return q.pop()
}

// WaitAndPop blocks until an element is available, the context is
// cancelled, or the queue is closed and drained (push disabled and empty).
func (q *Queue[T]) WaitAndPop(ctx context.Context) (out T, success bool) {
	for {
		out, success = q.pop()
		if success {
			return
		}
		select {
		case <-ctx.Done():
			return out, false
		default:
		}
		if q.closed.Load() {
			// One more attempt in case an element landed between the
			// failed pop above and observing closed.
			if out, success = q.pop(); success {
				return
			}
			return out, false
		}

		inst := q.readFrom.Load()
		migrateSignal := q.migrateCh.Load().(chan struct{})
		select {
		case <-ctx.Done():
			return out, false
		case <-q.closedCh:
			continue
		case <-inst.notEmpty:
			continue
		case <-migrateSignal:
			q.readFrom.Store(q.active.Load())
			continue
		}
	}
}

// pop performs a single non-blocking attempt against the current read
// instance, handling generation migration on the way.
func (q *Queue[T]) pop() (out T, success bool) {
	inst := q.readFrom.Load()
	inst.Metrics.PopAttempts.Add(1)

	pos := inst.head.Load()
	c := &inst.buf[pos&inst.mask]
	seq := c.seq.Load()
	ready := pos + 1

	if seq != ready {
		inst.Metrics.PopEmpty.Add(1)
		return out, false
	}

	if !inst.head.CompareAndSwap(pos, pos+1) {
		inst.Metrics.PopCASRetries.Add(1)
		return out, false
	}

	out = c.data
	c.seq.Store(pos + inst.mask + 1)
	inst.Metrics.PopSuccess.Add(1)
	decrement(&inst.Metrics.Depth)

	if inst.resizing.Load() && inst.head.Load() == inst.tail.Load() {
		migrateSignal := q.migrateCh.Load().(chan struct{})
		select {
		case migrateSignal <- struct{}{}:
		default:
		}
	}

	return out, true
}

func decrement(v *atomic.Uint64) {
	for {
		cur := v.Load()
		if cur == 0 {
			return
		}
		if v.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// currentWriteInstance returns the instance producers should target,
// spinning briefly if a resize just marked the old one draining.
func (q *Queue[T]) currentWriteInstance() (inst *instance[T]) {
	for {
		inst = q.active.Load()
		if !inst.resizing.Load() {
			return
		}
		runtime.Gosched()
	}
}

// DisablePush clears the push-enabled lifecycle bit. Already-queued
// elements remain poppable; further pushes fail immediately and any
// in-progress WaitAndPush/WaitAndPop unblock without waiting further.
func (q *Queue[T]) DisablePush() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.closedCh)
	}
}

// EnablePush is provided for API symmetry with disablePush/enablePush in
// the source. Because closure here is signaled by closing closedCh (plain
// channel close, avoiding the sign-bit reinterpretation the design notes
// flag as fragile), a queue cannot be reopened once disabled — a new Queue
// must be constructed instead, which is what tag rebinding (§4.5, optional)
// does at the comm-layer level. EnablePush is therefore a no-op.
func (q *Queue[T]) EnablePush() {}

func (q *Queue[T]) CanPush() bool {
	return !q.closed.Load()
}

func (q *Queue[T]) CanPop() bool {
	inst := q.readFrom.Load()
	return inst.head.Load() != inst.tail.Load() || !q.closed.Load()
}

// Len reports the current number of queued elements. Precise only at the
// moment of the call, same as canPush/canPop.
func (q *Queue[T]) Len() int {
	return int(q.active.Load().Metrics.Depth.Load())
}

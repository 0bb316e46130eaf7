package queue

import "sync/atomic"

// Atomic counters for a single queue generation. Aggregated by the caller
// when a resize has left two generations alive simultaneously.
type MetricStorage struct {
	Depth atomic.Uint64
	Bytes atomic.Uint64 // caller-supplied payload size sum, queue itself is size-agnostic

	PushAttempts   atomic.Uint64
	PushSuccess    atomic.Uint64
	PushFull       atomic.Uint64
	PushCASRetries atomic.Uint64
	PushSeqAhead   atomic.Uint64

	PopAttempts    atomic.Uint64
	PopSuccess     atomic.Uint64
	PopEmpty       atomic.Uint64
	PopCASRetries  atomic.Uint64
	PopWaitSignals atomic.Uint64
}

// Snapshot returns the aggregated counters across every live generation of
// the queue (normally one; two only mid-resize).
func (q *Queue[T]) Snapshot() (out MetricSnapshot) {
	instances := []*instance[T]{q.active.Load()}
	if r := q.readFrom.Load(); r != instances[0] {
		instances = append(instances, r)
	}
	for _, inst := range instances {
		out.Depth += inst.Metrics.Depth.Load()
		out.Bytes += inst.Metrics.Bytes.Load()
		out.PushAttempts += inst.Metrics.PushAttempts.Load()
		out.PushSuccess += inst.Metrics.PushSuccess.Load()
		out.PushFull += inst.Metrics.PushFull.Load()
		out.PopAttempts += inst.Metrics.PopAttempts.Load()
		out.PopSuccess += inst.Metrics.PopSuccess.Load()
		out.PopEmpty += inst.Metrics.PopEmpty.Load()
	}
	return
}

// Point-in-time aggregate of a queue's counters, safe to read without
// holding a reference to internal instance pointers.
type MetricSnapshot struct {
	Depth, Bytes                                    uint64
	PushAttempts, PushSuccess, PushFull              uint64
	PopAttempts, PopSuccess, PopEmpty                uint64
}

// Bounded multi-producer/multi-consumer queue with a push lifecycle bit.
//
// The ring buffer and its per-cell sequence numbers follow the classic
// bounded MPMC design: each slot carries a sequence counter that tells a
// producer or consumer whether the slot is free, filled, or still owned by
// the previous generation, so multiple threads can race on the same slot
// and detect the outcome with a single compare-and-swap.
package queue

import "sync/atomic"

type cell[T any] struct {
	seq  atomic.Uint64
	data T
}

// One generation of the ring buffer. A Queue may point active and
// readFrom at different instances while a capacity change (see
// ScaleCapacity) is migrating producers from the old generation to the new
// one; steady state has both pointers on the same instance.
type instance[T any] struct {
	Capacity int
	mask     uint64
	buf      []cell[T]
	head     atomic.Uint64
	tail     atomic.Uint64
	notEmpty chan struct{}
	resizing atomic.Bool // true once a newer generation exists; gates producers off this instance
	Metrics  *MetricStorage
}

// Queue is the bounded MPMC primitive described in component A: any thread
// may push or pop, capacity is fixed unless adaptive sizing is enabled, and
// once closed no further pushes are accepted while pops continue to drain
// whatever remains.
type Queue[T any] struct {
	active    atomic.Pointer[instance[T]] // producer-visible generation
	readFrom  atomic.Pointer[instance[T]] // consumer-visible generation
	migrateCh atomic.Value                // chan struct{}, signals a consumer to flip readFrom once the old generation drains

	closed   atomic.Bool
	closedCh chan struct{} // closed exactly once by DisablePush, wakes blocked poppers

	minCapacity int
	maxCapacity int
}

package queue

import (
	"context"
	"ranklink/internal/global"
	"ranklink/internal/logctx"

	"github.com/pbnjay/memory"
)

// ScaleCapacity grows or shrinks the queue's capacity based on current
// depth utilization, refusing to grow past available system memory. Disabled
// queues (minCapacity == maxCapacity) return immediately, which is how the
// fixed capacities assumed by the end-to-end scenarios in SPEC_FULL.md are
// guaranteed to hold exactly.
func (q *Queue[T]) ScaleCapacity(ctx context.Context) {
	if q.minCapacity >= q.maxCapacity {
		return
	}
	if q.active.Load() != q.readFrom.Load() {
		return // a migration is already in flight
	}

	inst := q.active.Load()
	capacity := inst.Capacity

	depth := inst.Metrics.Depth.Load()
	utilization := float64(depth) / float64(capacity) * 100

	var target uint64
	switch {
	case utilization >= 90 && capacity < q.maxCapacity:
		target = uint64(nextPowerOfTwo(capacity + 1))
		if int(target) > q.maxCapacity {
			target = uint64(q.maxCapacity)
		}
		bytesPerItem := inst.Metrics.Bytes.Load() / uint64(max(capacity, 1))
		if avail := memory.FreeMemory(); avail > 0 && target*bytesPerItem > avail {
			return
		}
	case utilization <= 2 && capacity > q.minCapacity:
		target = uint64(prevPowerOfTwo(capacity))
		if int(target) < q.minCapacity {
			target = uint64(q.minCapacity)
		}
	default:
		return
	}

	if err := q.resize(target); err != nil {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog, "queue: resize to %d failed: %v\n", target, err)
		return
	}
	logctx.LogEvent(ctx, global.VerbosityProgress, global.InfoLog, "queue: resized from %d to %d\n", capacity, target)
}

// resize starts a migration to a freshly allocated generation. Producers
// targeting the old generation are redirected by currentWriteInstance once
// resizing is observed; the last consumer to drain the old generation
// flips readFrom to the new one.
func (q *Queue[T]) resize(newCapacity uint64) (err error) {
	inst, err := newInstance[T](newCapacity)
	if err != nil {
		return
	}

	q.migrateCh.Store(make(chan struct{}, 1))
	q.active.Load().resizing.Store(true)
	q.active.Store(inst)
	return
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

func prevPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return nextPowerOfTwo(n) >> 1
}

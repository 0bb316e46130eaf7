package comm

import "sync/atomic"

// Metrics accumulates layer-wide counters, independent of per-tag state,
// for operational visibility (exposed to callers, not consumed internally).
type Metrics struct {
	SendBytes       atomic.Uint64
	RecvBytes       atomic.Uint64
	MarkersSent     atomic.Uint64
	MarkersReceived atomic.Uint64
	LoopbackSends   atomic.Uint64
}

// Package transport implements the rank-to-rank primitive the
// communication layer assumes is available: nonblocking probe/send/recv
// plus a poll-to-completion Test call. Two implementations are provided —
// an in-process Loopback fabric for tests and multi-rank simulation, and a
// UDP-backed transport for real deployments.
package transport

// Handle identifies an in-progress send or receive operation.
type Handle int64

// Probe reports a peer message that has arrived but not yet been posted
// for receipt.
type ProbeResult struct {
	Src    int
	Tag    int
	Length int
}

// Transport is the lower-level rank-to-rank primitive the communication
// layer is built on. Every method must be safe to call from the single
// communication thread only; no other goroutine may touch a Transport.
type Transport interface {
	Size() int
	Rank() int

	// Probe reports the oldest arrived-but-unposted message, if any.
	// Nonblocking.
	Probe() (result ProbeResult, ok bool)

	// PostSend initiates a nonblocking send of buf to dst on tag.
	PostSend(buf []byte, dst, tag int) (Handle, error)

	// PostRecv initiates a nonblocking receive of up to len(buf) bytes
	// from src on tag; normally called only after a matching Probe.
	PostRecv(buf []byte, src, tag int) (Handle, error)

	// Test polls a handle for completion. For a completed receive, n is
	// the number of bytes written into the buffer passed to PostRecv.
	Test(h Handle) (done bool, n int, err error)

	// Close releases any underlying resources (sockets, goroutines).
	Close() error
}

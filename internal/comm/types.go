// Package comm implements the tag-multiplexed, many-to-many communication
// layer (component D): one logical message stream per tag, buffered sends
// through the per-destination pool, nonblocking transport I/O serialized
// onto a single communication thread, and a decoupled callback thread pool
// that invokes user-registered receive handlers.
package comm

import (
	"ranklink/internal/msgbuf"
	"ranklink/internal/transport"
)

// ReceiveCallback is invoked once per delivered message on the tag it was
// registered for. bytes is nil and count is 0 for the end-of-stream
// cascade fired once every peer (including self, via loopback) has been
// heard from on that tag.
type ReceiveCallback func(bytes []byte, count, src int)

// sendElement is what producers push onto the outbound queue. A
// bufferID of msgbuf.NoBuffer with a valid (tag, dst) is an end-of-stream
// marker for that pair.
type sendElement struct {
	bufferID msgbuf.BufferID
	tag, dst int
}

// recvElement is what the communication thread pushes onto the inbound
// queue for the callback thread(s) to consume. count == 0 encodes an
// end-of-stream cascade.
type recvElement struct {
	bytes    []byte
	count    int
	tag, src int
}

type pendingSend struct {
	handle   transport.Handle
	bufferID msgbuf.BufferID
	tag, dst int
}

type pendingRecv struct {
	handle   transport.Handle
	buf      []byte
	tag, src int
}

package msgbuf

import "sync/atomic"

type Metrics struct {
	Appends        atomic.Uint64
	AppendRejected atomic.Uint64
	Swaps          atomic.Uint64
	Releases       atomic.Uint64
}

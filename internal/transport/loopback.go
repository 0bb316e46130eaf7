package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// packet is an in-flight message on the loopback fabric.
type packet struct {
	src, tag int
	data     []byte
}

// LoopbackTransport is an in-process Transport backed by per-destination
// channels. Sends complete the instant they are posted (there is no real
// wire), so Test never has to be polled more than once; it exists purely
// to satisfy the interface and let callers write transport-agnostic code.
type LoopbackTransport struct {
	rank  int
	peers []chan packet // indexed by destination rank, shared across the hub

	mu      sync.Mutex
	pending []packet // arrived, not yet probed-and-posted
	handles map[Handle]int
	nextID  atomic.Int64

	closed atomic.Bool
	drain  chan struct{}
	wg     sync.WaitGroup
}

// NewLoopbackHub builds ranks LoopbackTransports sharing an in-process
// fabric, for tests and single-process multi-rank simulation.
func NewLoopbackHub(ranks int) []*LoopbackTransport {
	chans := make([]chan packet, ranks)
	for i := range chans {
		chans[i] = make(chan packet, 1024)
	}
	hub := make([]*LoopbackTransport, ranks)
	for r := range hub {
		lt := &LoopbackTransport{
			rank:    r,
			peers:   chans,
			handles: make(map[Handle]int),
			drain:   make(chan struct{}),
		}
		lt.wg.Add(1)
		go lt.pump()
		hub[r] = lt
	}
	return hub
}

func (l *LoopbackTransport) pump() {
	defer l.wg.Done()
	for {
		select {
		case pkt := <-l.peers[l.rank]:
			l.mu.Lock()
			l.pending = append(l.pending, pkt)
			l.mu.Unlock()
		case <-l.drain:
			return
		}
	}
}

func (l *LoopbackTransport) Size() int { return len(l.peers) }
func (l *LoopbackTransport) Rank() int { return l.rank }

func (l *LoopbackTransport) Probe() (ProbeResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return ProbeResult{}, false
	}
	head := l.pending[0]
	return ProbeResult{Src: head.src, Tag: head.tag, Length: len(head.data)}, true
}

func (l *LoopbackTransport) PostSend(buf []byte, dst, tag int) (Handle, error) {
	if dst < 0 || dst >= len(l.peers) {
		return 0, fmt.Errorf("transport: send to out-of-range rank %d", dst)
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	l.peers[dst] <- packet{src: l.rank, tag: tag, data: cp}

	h := Handle(l.nextID.Add(1))
	l.mu.Lock()
	l.handles[h] = -1 // send handles carry no payload length
	l.mu.Unlock()
	return h, nil
}

func (l *LoopbackTransport) PostRecv(buf []byte, src, tag int) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, pkt := range l.pending {
		if pkt.src == src && pkt.tag == tag {
			n := copy(buf, pkt.data)
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			h := Handle(l.nextID.Add(1))
			l.handles[h] = n
			return h, nil
		}
	}
	return 0, fmt.Errorf("transport: no matching message from rank %d tag %d posted", src, tag)
}

func (l *LoopbackTransport) Test(h Handle) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.handles[h]
	if !ok {
		return false, 0, fmt.Errorf("transport: unknown handle %v", h)
	}
	delete(l.handles, h)
	if n < 0 {
		n = 0
	}
	return true, n, nil
}

func (l *LoopbackTransport) Close() error {
	if l.closed.CompareAndSwap(false, true) {
		close(l.drain)
		l.wg.Wait()
	}
	return nil
}

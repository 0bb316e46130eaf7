package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// headerLen is the fixed wire prefix: srcRank, tag, payload length, each a
// big-endian uint32.
const headerLen = 12

type recvResult struct {
	n   int
	err error
}

type sendResult struct {
	err error
}

// UDPTransport implements Transport over UDP sockets, one per rank, with
// SO_REUSEADDR/SO_REUSEPORT set the way a listener sharing a port range
// across restarts needs. Actual socket I/O runs on background goroutines
// so PostSend/PostRecv never block the calling communication thread;
// Test polls a completion channel per handle.
type UDPTransport struct {
	rank int
	size int
	self  *net.UDPConn
	peers []*net.UDPAddr // indexed by rank

	nextID atomic.Int64

	mu        sync.Mutex
	sendDone  map[Handle]chan sendResult
	recvDone  map[Handle]chan recvResult
	arrived   []datagram // probed, not yet posted

	closed atomic.Bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

type datagram struct {
	src, tag int
	payload  []byte
}

// NewUDPTransport binds a UDP socket for rank out of size total ranks,
// using basePort+rank as this rank's port, and peers[i] = basePort+i for
// every other rank on host. ReuseAddr/ReusePort are set before bind so a
// restarted process can rebind the same port immediately.
func NewUDPTransport(host string, basePort, rank, size int) (*UDPTransport, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) (ctrlErr error) {
			c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctrlErr = fmt.Errorf("transport: SO_REUSEADDR: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					ctrlErr = fmt.Errorf("transport: SO_REUSEPORT: %w", err)
					return
				}
			})
			return ctrlErr
		},
	}

	addr := fmt.Sprintf("%s:%d", host, basePort+rank)
	pc, err := lc.ListenPacket(nil, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	conn := pc.(*net.UDPConn)

	peers := make([]*net.UDPAddr, size)
	for i := range peers {
		peerAddr, resolveErr := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, basePort+i))
		if resolveErr != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: resolve peer %d: %w", i, resolveErr)
		}
		peers[i] = peerAddr
	}

	t := &UDPTransport{
		rank:     rank,
		size:     size,
		self:     conn,
		peers:    peers,
		sendDone: make(map[Handle]chan sendResult),
		recvDone: make(map[Handle]chan recvResult),
		stop:     make(chan struct{}),
	}
	t.wg.Add(1)
	go t.readLoop()
	return t, nil
}

// readLoop is the single goroutine that actually reads the socket; every
// datagram it pulls off the wire is parsed and queued for Probe/PostRecv
// to claim.
func (t *UDPTransport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, 65536)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		n, _, err := t.self.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			continue
		}
		if n < headerLen {
			continue
		}
		src := int(binary.BigEndian.Uint32(buf[0:4]))
		tag := int(binary.BigEndian.Uint32(buf[4:8]))
		length := int(binary.BigEndian.Uint32(buf[8:12]))
		if headerLen+length > n {
			continue
		}
		payload := make([]byte, length)
		copy(payload, buf[headerLen:headerLen+length])

		t.mu.Lock()
		t.arrived = append(t.arrived, datagram{src: src, tag: tag, payload: payload})
		t.mu.Unlock()
	}
}

func (t *UDPTransport) Size() int { return t.size }
func (t *UDPTransport) Rank() int { return t.rank }

func (t *UDPTransport) Probe() (ProbeResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.arrived) == 0 {
		return ProbeResult{}, false
	}
	head := t.arrived[0]
	return ProbeResult{Src: head.src, Tag: head.tag, Length: len(head.payload)}, true
}

// PostSend frames buf with the fixed header and hands it to a background
// goroutine for the actual WriteToUDP, returning immediately with a handle
// Test can poll.
func (t *UDPTransport) PostSend(buf []byte, dst, tag int) (Handle, error) {
	if dst < 0 || dst >= t.size {
		return 0, fmt.Errorf("transport: send to out-of-range rank %d", dst)
	}

	frame := make([]byte, headerLen+len(buf))
	binary.BigEndian.PutUint32(frame[0:4], uint32(t.rank))
	binary.BigEndian.PutUint32(frame[4:8], uint32(tag))
	binary.BigEndian.PutUint32(frame[8:12], uint32(len(buf)))
	copy(frame[headerLen:], buf)

	h := Handle(t.nextID.Add(1))
	done := make(chan sendResult, 1)
	t.mu.Lock()
	t.sendDone[h] = done
	t.mu.Unlock()

	go func() {
		_, err := t.self.WriteToUDP(frame, t.peers[dst])
		done <- sendResult{err: err}
	}()

	return h, nil
}

// PostRecv claims an already-probed datagram matching src/tag and copies
// its payload into buf, completing the returned handle immediately; the
// asynchrony already happened in readLoop.
func (t *UDPTransport) PostRecv(buf []byte, src, tag int) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, dg := range t.arrived {
		if dg.src == src && dg.tag == tag {
			n := copy(buf, dg.payload)
			t.arrived = append(t.arrived[:i], t.arrived[i+1:]...)

			h := Handle(t.nextID.Add(1))
			done := make(chan recvResult, 1)
			done <- recvResult{n: n}
			t.recvDone[h] = done
			return h, nil
		}
	}
	return 0, fmt.Errorf("transport: no matching datagram from rank %d tag %d posted", src, tag)
}

func (t *UDPTransport) Test(h Handle) (bool, int, error) {
	t.mu.Lock()
	sendCh, isSend := t.sendDone[h]
	recvCh, isRecv := t.recvDone[h]
	t.mu.Unlock()

	if isSend {
		select {
		case res := <-sendCh:
			t.mu.Lock()
			delete(t.sendDone, h)
			t.mu.Unlock()
			return true, 0, res.err
		default:
			return false, 0, nil
		}
	}
	if isRecv {
		select {
		case res := <-recvCh:
			t.mu.Lock()
			delete(t.recvDone, h)
			t.mu.Unlock()
			return true, res.n, res.err
		default:
			return false, 0, nil
		}
	}
	return false, 0, fmt.Errorf("transport: unknown handle %v", h)
}

func (t *UDPTransport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		close(t.stop)
		t.self.Close()
		t.wg.Wait()
	}
	return nil
}

package comm

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"ranklink/internal/global"
	"ranklink/internal/logctx"
	"ranklink/internal/msgbuf"
	"ranklink/internal/queue"
	"ranklink/internal/transport"
)

// Options configures a Layer's buffering and concurrency.
type Options struct {
	// BufferCapacity is the fixed byte capacity of every message buffer.
	BufferCapacity int
	// PoolMargin is the number of spare buffers kept per tag beyond one
	// per destination, so the free-list is never observed empty in
	// steady state.
	PoolMargin int
	// QueueCapacity bounds the outbound and inbound queues; must be a
	// power of two.
	QueueCapacity uint64
	// CallbackThreads is the number of goroutines draining the inbound
	// queue and invoking user callbacks. At least one is always started.
	CallbackThreads int
}

func DefaultOptions() Options {
	return Options{
		BufferCapacity:  global.DefaultBufferCapacity,
		PoolMargin:      global.DefaultPoolMargin,
		QueueCapacity:   global.DefaultQueueCapacity,
		CallbackThreads: 1,
	}
}

// Layer is the tag-multiplexed communication layer described in component
// D: many user threads call SendMessage concurrently; exactly one
// communication thread serializes all transport I/O; one or more callback
// threads invoke user-registered handlers independent of receive polling
// latency.
type Layer struct {
	tr   transport.Transport
	rank int
	size int
	opts Options

	tagsMu sync.Mutex
	tags   map[int]*tagState

	outbound *queue.Queue[sendElement]
	inbound  *queue.Queue[recvElement]

	pendingSendsMu sync.Mutex
	pendingSends   []pendingSend

	pendingRecvsMu sync.Mutex
	pendingRecvs   []pendingRecv

	commWg    sync.WaitGroup
	callbacks *errgroup.Group

	Metrics *Metrics
}

// New constructs a Layer over tr. Call InitCommunication to start the
// internal threads before any SendMessage/Flush/Finish call.
func New(tr transport.Transport, opts Options) (*Layer, error) {
	if opts.QueueCapacity == 0 {
		opts.QueueCapacity = global.DefaultQueueCapacity
	}
	if opts.BufferCapacity == 0 {
		opts.BufferCapacity = global.DefaultBufferCapacity
	}
	if opts.CallbackThreads < 1 {
		opts.CallbackThreads = 1
	}

	outbound, err := queue.New[sendElement](opts.QueueCapacity, int(opts.QueueCapacity), int(opts.QueueCapacity))
	if err != nil {
		return nil, fmt.Errorf("comm: outbound queue: %w", err)
	}
	inbound, err := queue.New[recvElement](opts.QueueCapacity, int(opts.QueueCapacity), int(opts.QueueCapacity))
	if err != nil {
		return nil, fmt.Errorf("comm: inbound queue: %w", err)
	}

	return &Layer{
		tr:       tr,
		rank:     tr.Rank(),
		size:     tr.Size(),
		opts:     opts,
		tags:     make(map[int]*tagState),
		outbound: outbound,
		inbound:  inbound,
		Metrics:  &Metrics{},
	}, nil
}

func (l *Layer) Size() int { return l.size }
func (l *Layer) Rank() int { return l.rank }

// AddReceiveCallback registers fn for tag. Single-threaded initialization:
// must be called before any SendMessage for tag, and at most once per tag;
// a second registration returns an error, also after the tag has reached
// Done (rebinding a finished tag is not supported; construct a fresh Layer
// instead).
func (l *Layer) AddReceiveCallback(tag int, fn ReceiveCallback) error {
	l.tagsMu.Lock()
	defer l.tagsMu.Unlock()

	if _, exists := l.tags[tag]; exists {
		return fmt.Errorf("comm: tag %d already has a registered callback", tag)
	}
	ts := &tagState{tag: tag, callback: fn}
	ts.recvRemaining.Store(int64(l.size))
	ts.accepting.Store(true)
	l.tags[tag] = ts
	return nil
}

func (l *Layer) getTagState(tag int) (*tagState, bool) {
	l.tagsMu.Lock()
	defer l.tagsMu.Unlock()
	ts, ok := l.tags[tag]
	return ts, ok
}

func (l *Layer) allTagStates() []*tagState {
	l.tagsMu.Lock()
	defer l.tagsMu.Unlock()
	out := make([]*tagState, 0, len(l.tags))
	for _, ts := range l.tags {
		out = append(out, ts)
	}
	return out
}

// SendMessage appends data into the active buffer for (tag, dst), blocking
// only long enough to commit the bytes; any swapped-out full buffer is
// handed to the outbound queue under backpressure before the call returns.
func (l *Layer) SendMessage(ctx context.Context, tag, dst int, data []byte) error {
	ts, ok := l.getTagState(tag)
	if !ok {
		return fmt.Errorf("comm: sendMessage on unregistered tag %d", tag)
	}
	if !ts.accepting.Load() {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog, "comm: rejected send on closed tag %d\n", tag)
		return fmt.Errorf("comm: tag %d is not accepting sends", tag)
	}
	if dst < 0 || dst >= l.size {
		return fmt.Errorf("comm: destination %d out of range [0,%d)", dst, l.size)
	}
	if err := ts.ensureBuffers(l.size, l.size+l.opts.PoolMargin, l.opts.BufferCapacity); err != nil {
		return fmt.Errorf("comm: allocate buffers for tag %d: %w", tag, err)
	}

	for {
		committed, full := ts.buffers.Append(dst, data)
		if full != msgbuf.NoBuffer {
			ts.outstandingSends.Add(1)
			if !l.outbound.WaitAndPush(ctx, sendElement{bufferID: full, tag: tag, dst: dst}) {
				return fmt.Errorf("comm: enqueue send for tag %d: %w", tag, ctx.Err())
			}
		}
		if committed {
			return nil
		}
	}
}

// Flush stops tag from accepting further sends, harvests every
// destination's partially-filled active buffer onto the outbound queue,
// and enqueues an end-of-stream marker for every destination — including
// ones that were never sent to, which peers need to terminate their own
// wait on this tag. Returns once all markers are enqueued, not once they
// are transmitted; call Finish to wait for that.
func (l *Layer) Flush(ctx context.Context, tag int) error {
	ts, ok := l.getTagState(tag)
	if !ok {
		return fmt.Errorf("comm: flush on unregistered tag %d", tag)
	}
	if !ts.flushed.CompareAndSwap(false, true) {
		return fmt.Errorf("comm: tag %d already flushed", tag)
	}
	ts.accepting.Store(false)
	if err := ts.ensureBuffers(l.size, l.size+l.opts.PoolMargin, l.opts.BufferCapacity); err != nil {
		return fmt.Errorf("comm: allocate buffers for tag %d: %w", tag, err)
	}

	for dst := 0; dst < l.size; dst++ {
		if id := ts.buffers.TakeActive(dst); id != msgbuf.NoBuffer && len(ts.buffers.GetBackBuffer(id)) == 0 {
			// an empty buffer would go out as a zero-length message, which
			// receivers read as an end-of-stream marker
			ts.buffers.Release(id)
		} else if id != msgbuf.NoBuffer {
			ts.outstandingSends.Add(1)
			if !l.outbound.WaitAndPush(ctx, sendElement{bufferID: id, tag: tag, dst: dst}) {
				return fmt.Errorf("comm: enqueue partial buffer for tag %d dst %d: %w", tag, dst, ctx.Err())
			}
		}
		ts.outstandingSends.Add(1)
		if !l.outbound.WaitAndPush(ctx, sendElement{bufferID: msgbuf.NoBuffer, tag: tag, dst: dst}) {
			return fmt.Errorf("comm: enqueue end-of-stream marker for tag %d dst %d: %w", tag, dst, ctx.Err())
		}
	}
	return nil
}

// Finish blocks until every send enqueued for tag has completed and every
// peer's (including self's) end-of-stream marker has been received.
func (l *Layer) Finish(ctx context.Context, tag int) error {
	ts, ok := l.getTagState(tag)
	if !ok {
		return fmt.Errorf("comm: finish on unregistered tag %d", tag)
	}
	for {
		if ts.recvRemaining.Load() == 0 && ts.outstandingSends.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}

// InitCommunication starts the communication thread and the callback
// thread pool. ctx governs a hard shutdown: cancelling it unblocks both
// without waiting for the termination predicate.
func (l *Layer) InitCommunication(ctx context.Context) {
	l.commWg.Add(1)
	go l.runComm(ctx)

	group, gctx := errgroup.WithContext(ctx)
	l.callbacks = group
	for i := 0; i < l.opts.CallbackThreads; i++ {
		group.Go(func() error {
			l.runCallbacks(gctx)
			return nil
		})
	}
}

// FinishCommunication blocks until the communication thread has observed
// the termination predicate (every tag flushed and drained) and every
// callback thread has exited.
func (l *Layer) FinishCommunication() {
	l.commWg.Wait()
	l.callbacks.Wait()
}

func (l *Layer) runComm(ctx context.Context) {
	defer l.commWg.Done()
	for {
		l.finishReceives(ctx)
		l.finishSends(ctx)
		l.tryStartReceive(ctx)
		l.tryStartSend(ctx)

		if l.terminationReached() {
			l.outbound.DisablePush()
			l.inbound.DisablePush()
			return
		}

		select {
		case <-ctx.Done():
			l.outbound.DisablePush()
			l.inbound.DisablePush()
			return
		default:
			runtime.Gosched()
		}
	}
}

func (l *Layer) runCallbacks(ctx context.Context) {
	for {
		elem, ok := l.inbound.WaitAndPop(ctx)
		if !ok {
			return
		}
		ts, found := l.getTagState(elem.tag)
		if !found || ts.callback == nil {
			continue
		}
		ts.callback(elem.bytes, elem.count, elem.src)
	}
}

// finishSends polls in-flight sends oldest-first, stopping at the first
// one not yet complete (real transports complete sends in submission
// order; out-of-order completions on exotic transports would simply
// delay release of later buffers, never corrupt state).
func (l *Layer) finishSends(ctx context.Context) {
	l.pendingSendsMu.Lock()
	defer l.pendingSendsMu.Unlock()

	for len(l.pendingSends) > 0 {
		ps := l.pendingSends[0]
		done, _, err := l.tr.Test(ps.handle)
		if err != nil {
			logctx.LogEvent(ctx, global.VerbosityNone, global.ErrorLog, "comm: send failed for tag %d dst %d: %v\n", ps.tag, ps.dst, err)
			panic(fmt.Sprintf("comm: transport send failure: %v", err))
		}
		if !done {
			return
		}
		l.pendingSends = l.pendingSends[1:]

		if ts, ok := l.getTagState(ps.tag); ok {
			ts.outstandingSends.Add(-1)
			if ps.bufferID != msgbuf.NoBuffer {
				ts.buffers.Release(ps.bufferID)
			}
		}
	}
}

func (l *Layer) finishReceives(ctx context.Context) {
	l.pendingRecvsMu.Lock()
	defer l.pendingRecvsMu.Unlock()

	for len(l.pendingRecvs) > 0 {
		pr := l.pendingRecvs[0]
		done, n, err := l.tr.Test(pr.handle)
		if err != nil {
			logctx.LogEvent(ctx, global.VerbosityNone, global.ErrorLog, "comm: recv failed for tag %d src %d: %v\n", pr.tag, pr.src, err)
			panic(fmt.Sprintf("comm: transport recv failure: %v", err))
		}
		if !done {
			return
		}
		l.pendingRecvs = l.pendingRecvs[1:]
		l.deliverReceived(ctx, pr.buf[:n], n, pr.tag, pr.src)
	}
}

func (l *Layer) tryStartReceive(ctx context.Context) {
	result, ok := l.tr.Probe()
	if !ok {
		return
	}
	buf := make([]byte, result.Length)
	handle, err := l.tr.PostRecv(buf, result.Src, result.Tag)
	if err != nil {
		logctx.LogEvent(ctx, global.VerbosityNone, global.ErrorLog, "comm: postRecv failed for tag %d src %d: %v\n", result.Tag, result.Src, err)
		panic(fmt.Sprintf("comm: transport postRecv failure: %v", err))
	}
	l.pendingRecvsMu.Lock()
	l.pendingRecvs = append(l.pendingRecvs, pendingRecv{handle: handle, buf: buf, tag: result.Tag, src: result.Src})
	l.pendingRecvsMu.Unlock()
}

// tryStartSend pops at most one element from the outbound queue per loop
// iteration. A destination equal to this rank bypasses the transport
// entirely: the payload (or marker) is delivered straight onto the
// inbound queue.
func (l *Layer) tryStartSend(ctx context.Context) {
	elem, ok := l.outbound.TryPop()
	if !ok {
		return
	}

	ts, _ := l.getTagState(elem.tag)

	if elem.dst == l.rank {
		l.Metrics.LoopbackSends.Add(1)
		if elem.bufferID == msgbuf.NoBuffer {
			l.Metrics.MarkersSent.Add(1)
			l.deliverReceived(ctx, nil, 0, elem.tag, l.rank)
		} else {
			payload := ts.buffers.GetBackBuffer(elem.bufferID)
			cp := make([]byte, len(payload))
			copy(cp, payload)
			l.deliverReceived(ctx, cp, len(cp), elem.tag, l.rank)
			ts.buffers.Release(elem.bufferID)
		}
		if ts != nil {
			ts.outstandingSends.Add(-1)
		}
		return
	}

	var payload []byte
	if elem.bufferID != msgbuf.NoBuffer {
		payload = ts.buffers.GetBackBuffer(elem.bufferID)
		l.Metrics.SendBytes.Add(uint64(len(payload)))
	} else {
		l.Metrics.MarkersSent.Add(1)
	}

	handle, err := l.tr.PostSend(payload, elem.dst, elem.tag)
	if err != nil {
		logctx.LogEvent(ctx, global.VerbosityNone, global.ErrorLog, "comm: postSend failed for tag %d dst %d: %v\n", elem.tag, elem.dst, err)
		panic(fmt.Sprintf("comm: transport postSend failure: %v", err))
	}

	l.pendingSendsMu.Lock()
	l.pendingSends = append(l.pendingSends, pendingSend{handle: handle, bufferID: elem.bufferID, tag: elem.tag, dst: elem.dst})
	l.pendingSendsMu.Unlock()
}

// deliverReceived gates end-of-stream markers on recvRemaining, pushing
// the cascade marker onward only once every peer has been heard from, and
// forwards ordinary messages unconditionally.
func (l *Layer) deliverReceived(ctx context.Context, bytes []byte, count, tag, src int) {
	ts, ok := l.getTagState(tag)
	if !ok {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog, "comm: dropping message for unregistered tag %d from rank %d\n", tag, src)
		return
	}

	if count == 0 {
		l.Metrics.MarkersReceived.Add(1)
		if !l.decrementRecvRemaining(ctx, ts, src) {
			return
		}
		bytes = nil
	} else {
		l.Metrics.RecvBytes.Add(uint64(count))
	}

	l.inbound.WaitAndPush(ctx, recvElement{bytes: bytes, count: count, tag: tag, src: src})
}

// decrementRecvRemaining decrements the per-tag peer countdown, returning
// true exactly once, the moment it reaches zero. A decrement observed
// below zero means more end-of-stream markers arrived than there are
// peers — a protocol anomaly the source treats as fatal, which a panic in
// the communication goroutine (crashing the process) faithfully mirrors.
func (l *Layer) decrementRecvRemaining(ctx context.Context, ts *tagState, src int) bool {
	for {
		cur := ts.recvRemaining.Load()
		if cur <= 0 {
			logctx.LogEvent(ctx, global.VerbosityNone, global.ErrorLog, "comm: recvRemaining for tag %d dropped below zero (extra marker from rank %d)\n", ts.tag, src)
			panic(fmt.Sprintf("comm: recvRemaining underflow for tag %d", ts.tag))
		}
		if ts.recvRemaining.CompareAndSwap(cur, cur-1) {
			return cur-1 == 0
		}
	}
}

// terminationReached implements §5's global predicate: every tag has
// stopped accepting sends and drained its peer countdown, and both queues
// plus both in-flight transport lists are empty.
func (l *Layer) terminationReached() bool {
	for _, ts := range l.allTagStates() {
		if ts.accepting.Load() || ts.recvRemaining.Load() != 0 {
			return false
		}
	}

	if l.outbound.Len() != 0 || l.inbound.Len() != 0 {
		return false
	}

	l.pendingSendsMu.Lock()
	sendsEmpty := len(l.pendingSends) == 0
	l.pendingSendsMu.Unlock()
	if !sendsEmpty {
		return false
	}

	l.pendingRecvsMu.Lock()
	recvsEmpty := len(l.pendingRecvs) == 0
	l.pendingRecvsMu.Unlock()
	return recvsEmpty
}

package msgbuf

import (
	"sync"
	"testing"
)

func TestPool_AppendAssignsActiveBufferLazily(t *testing.T) {
	p, err := New(2, 4, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids := p.ActiveIDs(); len(ids) != 0 {
		t.Fatalf("expected no active buffers before first append, got %v", ids)
	}
	ok, full := p.Append(0, []byte("hi"))
	if !ok || full != NoBuffer {
		t.Fatalf("expected first append to commit without a swap, got ok=%v full=%v", ok, full)
	}
	if ids := p.ActiveIDs(); len(ids) != 1 {
		t.Fatalf("expected exactly one active buffer, got %v", ids)
	}
}

func TestPool_AppendSwapsOnFull(t *testing.T) {
	p, err := New(1, 4, 4) // 4-byte buffers
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, full := p.Append(0, []byte("abcd")) // fills exactly
	if !ok || full != NoBuffer {
		t.Fatalf("expected exact-fit append to succeed without swap, got ok=%v full=%v", ok, full)
	}

	ok, full = p.Append(0, []byte("e")) // triggers swap
	if ok {
		t.Fatal("expected append against a full buffer to fail and report a swap")
	}
	if full == NoBuffer {
		t.Fatal("expected the swap winner to receive the old buffer's id")
	}
	if data := p.GetBackBuffer(full); string(data) != "abcd" {
		t.Fatalf("expected swapped-out buffer to retain its committed bytes, got %q", data)
	}

	// retry against the fresh active buffer
	ok, full = p.Append(0, []byte("e"))
	if !ok || full != NoBuffer {
		t.Fatalf("expected retry against new buffer to succeed, got ok=%v full=%v", ok, full)
	}
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	// Two buffers: after the swap both are taken, so the free-list holds
	// only what Release puts back.
	p, err := New(1, 2, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Append(0, []byte("abcd"))
	_, full := p.Append(0, []byte("x"))

	p.Release(full)
	p.Release(full) // must be a no-op, not a double free-list push

	select {
	case <-p.free:
	default:
		t.Fatal("expected exactly one buffer id back on the free-list")
	}
	select {
	case id := <-p.free:
		t.Fatalf("expected free-list to have exactly one id from the double release, got extra %v", id)
	default:
	}
}

func TestPool_TakeActiveHarvestsPartialBuffer(t *testing.T) {
	p, err := New(1, 4, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Append(0, []byte("partial"))

	id := p.TakeActive(0)
	if id == NoBuffer {
		t.Fatal("expected TakeActive to harvest the non-empty active buffer")
	}
	if string(p.GetBackBuffer(id)) != "partial" {
		t.Fatalf("expected harvested buffer to retain its bytes, got %q", p.GetBackBuffer(id))
	}
	if second := p.TakeActive(0); second != NoBuffer {
		t.Fatalf("expected second TakeActive on now-empty slot to return NoBuffer, got %v", second)
	}
}

// At most one active buffer per destination at any moment, even under
// concurrent appenders racing the same destination past capacity.
func TestPool_ConcurrentAppendSingleActivePerDestination(t *testing.T) {
	const writers = 20
	p, err := New(1, writers+4, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for !func() bool {
				ok, full := p.Append(0, []byte("ab"))
				if full != NoBuffer {
					p.Release(full)
				}
				return ok
			}() {
			}
		}()
	}
	wg.Wait()

	if ids := p.ActiveIDs(); len(ids) > 1 {
		t.Fatalf("expected at most one active buffer for the destination, got %v", ids)
	}
}

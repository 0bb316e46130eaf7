package queue

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestQueue_Concurrency(t *testing.T) {
	tests := []struct {
		name          string
		capacity      uint64
		numGoroutines int
		numOps        int
	}{
		{"SmallSingleThreaded", 128, 1, 100},
		{"HighContention", 16, 10, 1000},
		{"LargeQueue", 1024, 1, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New[int](tt.capacity, 0, 0)
			if err != nil {
				t.Fatalf("expected no error creating queue, got %v", err)
			}

			done := make(chan bool, tt.numGoroutines*2)
			for i := 0; i < tt.numGoroutines; i++ {
				go func() {
					for j := 0; j < tt.numOps; j++ {
						for !q.TryPush(j) {
							runtime.Gosched()
						}
					}
					done <- true
				}()
				go func() {
					ctx := context.Background()
					for j := 0; j < tt.numOps; j++ {
						if _, ok := q.WaitAndPop(ctx); !ok {
							t.Errorf("pop failed during contention")
						}
					}
					done <- true
				}()
			}
			for i := 0; i < tt.numGoroutines*2; i++ {
				<-done
			}
		})
	}
}

func TestQueue_CapacityInvariant(t *testing.T) {
	q, err := New[int](4, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 4; i++ {
		if !q.TryPush(i) {
			t.Fatalf("expected push %d to succeed under capacity", i)
		}
	}
	if q.TryPush(99) {
		t.Fatalf("expected push to fail once queue is at capacity")
	}
	if depth := q.Snapshot().Depth; depth != 4 {
		t.Fatalf("expected depth 4, got %d", depth)
	}
}

func TestQueue_ZeroCapacityFailsConstruction(t *testing.T) {
	if _, err := New[int](0, 0, 0); err == nil {
		t.Fatal("expected error constructing a zero-capacity queue")
	}
}

func TestQueue_NonPowerOfTwoFailsConstruction(t *testing.T) {
	if _, err := New[int](3, 0, 0); err == nil {
		t.Fatal("expected error constructing a non-power-of-two queue")
	}
}

func TestQueue_DisablePush(t *testing.T) {
	q, err := New[int](4, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q.TryPush(1)
	q.TryPush(2)
	q.DisablePush()

	if q.TryPush(3) {
		t.Fatal("expected push to fail after DisablePush")
	}

	ctx := context.Background()
	if _, ok := q.WaitAndPop(ctx); !ok {
		t.Fatal("expected pop to succeed while drained items remain")
	}
	if _, ok := q.WaitAndPop(ctx); !ok {
		t.Fatal("expected pop to succeed for the last drained item")
	}
	if _, ok := q.WaitAndPop(ctx); ok {
		t.Fatal("expected pop to fail once closed and drained")
	}
}

func TestQueue_WaitAndPushUnblocksOnClose(t *testing.T) {
	q, err := New[int](2, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q.TryPush(1)
	q.TryPush(2) // full

	var wg sync.WaitGroup
	wg.Add(1)
	result := make(chan bool, 1)
	go func() {
		defer wg.Done()
		result <- q.WaitAndPush(context.Background(), 3)
	}()

	time.Sleep(20 * time.Millisecond)
	q.DisablePush()
	wg.Wait()

	if ok := <-result; ok {
		t.Fatal("expected blocked WaitAndPush to fail once the queue closes")
	}
}

func TestQueue_WaitAndPopBlocksThenDelivers(t *testing.T) {
	q, err := New[int](2, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan int)
	go func() {
		v, ok := q.WaitAndPop(context.Background())
		if !ok {
			t.Errorf("expected pop to succeed")
		}
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.TryPush(42)

	if v := <-done; v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestQueue_WaitAndPopRespectsContextCancel(t *testing.T) {
	q, err := New[int](2, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, ok := q.WaitAndPop(ctx); ok {
		t.Fatal("expected pop to time out on an empty queue")
	}
}

func TestQueue_ScaleCapacityDisabledWhenBoundsEqual(t *testing.T) {
	q, err := New[int](4, 4, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 4; i++ {
		q.TryPush(i)
	}
	q.ScaleCapacity(context.Background())
	if q.active.Load().Capacity != 4 {
		t.Fatalf("expected capacity to remain fixed at 4, got %d", q.active.Load().Capacity)
	}
}

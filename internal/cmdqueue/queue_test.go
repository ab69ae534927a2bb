package cmdqueue

import (
	"sync"
	"testing"
)

func TestTryEnqueueAndDrainAllPreservesFIFO(t *testing.T) {
	q := New(4)

	for _, line := range []string{"a", "b", "c"} {
		if !q.TryEnqueue(line) {
			t.Fatalf("TryEnqueue(%q) = false, want true", line)
		}
	}

	drained := q.DrainAll()
	want := []string{"a", "b", "c"}
	if len(drained) != len(want) {
		t.Fatalf("drained = %v, want %v", drained, want)
	}
	for i := range want {
		if drained[i] != want[i] {
			t.Fatalf("drained[%d] = %q, want %q", i, drained[i], want[i])
		}
	}

	if q.Len() != 0 {
		t.Fatalf("Len() after drain = %d, want 0", q.Len())
	}
}

func TestTryEnqueueFailsWhenFullAndCountsOverflow(t *testing.T) {
	q := New(2)
	if !q.TryEnqueue("a") || !q.TryEnqueue("b") {
		t.Fatal("expected first two enqueues to succeed")
	}
	if q.TryEnqueue("c") {
		t.Fatal("expected third enqueue to fail, queue is full")
	}

	stats := q.Stats()
	if stats.Overflows != 1 {
		t.Fatalf("Overflows = %d, want 1", stats.Overflows)
	}
	if stats.Depth != 2 {
		t.Fatalf("Depth = %d, want 2", stats.Depth)
	}
}

func TestOverflowHandlerInvokedOnDrop(t *testing.T) {
	q := New(1)
	var dropped []string
	q.SetOverflowHandler(func(line string) {
		dropped = append(dropped, line)
	})

	q.TryEnqueue("kept")
	q.TryEnqueue("dropped-1")
	q.TryEnqueue("dropped-2")

	if len(dropped) != 2 {
		t.Fatalf("dropped = %v, want 2 entries", dropped)
	}
}

func TestDrainAllOnEmptyQueueReturnsNil(t *testing.T) {
	q := New(4)
	if drained := q.DrainAll(); drained != nil {
		t.Fatalf("DrainAll() on empty queue = %v, want nil", drained)
	}
}

func TestConcurrentProducersNeverExceedCapacity(t *testing.T) {
	q := New(100)
	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.TryEnqueue("line")
			}
		}(p)
	}
	wg.Wait()

	if q.Len() > q.Capacity() {
		t.Fatalf("Len() = %d exceeds Capacity() = %d", q.Len(), q.Capacity())
	}
}

// Package cmdqueue implements the Command Queue: a bounded, multi-producer
// single-consumer buffer that any number of transport goroutines enqueue
// command lines into, and that the bridge orchestrator alone drains, once
// per host tick. There is no cross-producer ordering guarantee, only FIFO
// per producer; the consumer never blocks a producer and producers never
// block each other.
package cmdqueue

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1024

// Queue is a bounded FIFO buffer of command lines. TryEnqueue never blocks;
// when full, it drops the incoming line and counts the drop. DrainAll is
// the sole consumer operation, called once per tick by the orchestrator —
// there are no background consumers.
type Queue struct {
	mu       sync.Mutex
	lines    []string
	capacity int

	totalEnqueued atomic.Int64
	totalDrained  atomic.Int64
	overflows     atomic.Int64

	onOverflow func(line string)
}

// New creates a Queue with the given capacity (DefaultCapacity if
// capacity <= 0).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		lines:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// SetOverflowHandler installs a callback invoked, outside the queue's
// lock, with every line dropped because the queue was full. Used to wire
// an overflow sink (e.g. RedisOverflowSink) without coupling the queue to
// it directly.
func (q *Queue) SetOverflowHandler(fn func(line string)) {
	q.mu.Lock()
	q.onOverflow = fn
	q.mu.Unlock()
}

// TryEnqueue appends line to the queue without blocking. It returns false
// and increments the overflow counter if the queue is at capacity.
func (q *Queue) TryEnqueue(line string) bool {
	q.mu.Lock()
	if len(q.lines) >= q.capacity {
		handler := q.onOverflow
		q.mu.Unlock()
		q.overflows.Add(1)
		if handler != nil {
			handler(line)
		}
		return false
	}
	q.lines = append(q.lines, line)
	q.mu.Unlock()
	q.totalEnqueued.Add(1)
	return true
}

// DrainAll removes and returns every currently queued line, in FIFO order
// per producer. Intended to be called exactly once per host tick by the
// orchestrator; there is no blocking variant because the tick must never
// suspend.
func (q *Queue) DrainAll() []string {
	q.mu.Lock()
	if len(q.lines) == 0 {
		q.mu.Unlock()
		return nil
	}
	drained := q.lines
	q.lines = make([]string, 0, q.capacity)
	q.mu.Unlock()
	q.totalDrained.Add(int64(len(drained)))
	return drained
}

// Len returns the current number of queued lines.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}

// Capacity returns the queue's fixed capacity.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Stats reports queue counters for metrics/diagnostics.
type Stats struct {
	Depth         int
	Capacity      int
	TotalEnqueued int64
	TotalDrained  int64
	Overflows     int64
}

// Stats returns a point-in-time snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	depth := len(q.lines)
	q.mu.Unlock()

	return Stats{
		Depth:         depth,
		Capacity:      q.capacity,
		TotalEnqueued: q.totalEnqueued.Load(),
		TotalDrained:  q.totalDrained.Load(),
		Overflows:     q.overflows.Load(),
	}
}

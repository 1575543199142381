// Package queue provides the bounded FIFO that decouples transport goroutines
// from the simulation tick. A full queue is an explicit backpressure signal:
// Push fails instead of blocking the caller.
package queue

import (
	"sync"

	"blockfall/server/internal/protocol"
)

const (
	occupancyMetricKey = "packet_queue_occupancy"
	overflowMetricKey  = "packet_queue_overflow_total"
)

// Metrics is the minimal counter surface the queue reports into.
type Metrics interface {
	Add(string, uint64)
	Store(string, uint64)
}

// PacketQueue stores envelopes in a fixed-size ring. It is safe for
// concurrent producers and consumers; PopWait blocks until an item arrives or
// the queue is closed.
type PacketQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	data    []protocol.Envelope
	head    int
	tail    int
	count   int
	closed  bool
	metrics Metrics
}

// New constructs a ring with the provided capacity.
func New(capacity int, metrics Metrics) *PacketQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &PacketQueue{
		data:    make([]protocol.Envelope, capacity),
		metrics: metrics,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Capacity reports the maximum number of envelopes the queue can hold.
func (q *PacketQueue) Capacity() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Push enqueues an envelope, returning false when the queue is full or
// closed. Callers decide whether to drop or retry; the queue never blocks.
func (q *PacketQueue) Push(env protocol.Envelope) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.count == len(q.data) {
		if q.metrics != nil {
			q.metrics.Add(overflowMetricKey, 1)
		}
		return false
	}
	q.data[q.tail] = env
	q.tail = (q.tail + 1) % len(q.data)
	q.count++
	q.storeOccupancyLocked()
	q.cond.Signal()
	return true
}

// Pop dequeues the oldest envelope without blocking.
func (q *PacketQueue) Pop() (protocol.Envelope, bool) {
	if q == nil {
		return protocol.Envelope{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// PopWait blocks until an envelope is available or the queue is closed. The
// second return value is false only after Close.
func (q *PacketQueue) PopWait() (protocol.Envelope, bool) {
	if q == nil {
		return protocol.Envelope{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return protocol.Envelope{}, false
	}
	return q.popLocked()
}

// Drain returns all queued envelopes in FIFO order and empties the ring.
func (q *PacketQueue) Drain() []protocol.Envelope {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil
	}
	out := make([]protocol.Envelope, q.count)
	for i := 0; i < q.count; i++ {
		out[i] = q.data[(q.head+i)%len(q.data)]
	}
	q.head = 0
	q.tail = 0
	q.count = 0
	q.storeOccupancyLocked()
	return out
}

// Len reports the number of queued envelopes.
func (q *PacketQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Close clears the queue and wakes every blocked PopWait so worker
// goroutines observe shutdown before they are joined. Close is idempotent.
func (q *PacketQueue) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.head = 0
	q.tail = 0
	q.count = 0
	q.storeOccupancyLocked()
	q.cond.Broadcast()
}

func (q *PacketQueue) popLocked() (protocol.Envelope, bool) {
	if q.count == 0 {
		return protocol.Envelope{}, false
	}
	env := q.data[q.head]
	q.data[q.head] = protocol.Envelope{}
	q.head = (q.head + 1) % len(q.data)
	q.count--
	q.storeOccupancyLocked()
	return env, true
}

func (q *PacketQueue) storeOccupancyLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.Store(occupancyMetricKey, uint64(q.count))
}

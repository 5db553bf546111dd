package order

import (
	"context"
	"sync"
	"sync/atomic"
)

// QueueMetrics tracks in-memory queue throughput/backpressure counters,
// surfaced via GET /api/v1/queue/metrics.
type QueueMetrics struct {
	Enqueued   uint64
	Dequeued   uint64
	Overflowed uint64
	Dropped    uint64
}

// Queue buffers orders before execution. A bounded primary channel absorbs
// bursts; once full, orders spill into an overflow buffer behind a mutex
// rather than blocking the producer (the engine tick, the API handler) —
// the fan-out bus's never-block-the-producer discipline applied here to
// order submission.
type Queue struct {
	ch       chan Order
	mu       sync.Mutex
	overflow []Order
	metrics  QueueMetrics
	closed   bool
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{ch: make(chan Order, size)}
}

// Enqueue attempts the bounded channel first, then the overflow buffer.
// Returns false only once the queue has been closed.
func (q *Queue) Enqueue(o Order) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()

	select {
	case q.ch <- o:
		atomic.AddUint64(&q.metrics.Enqueued, 1)
		return true
	default:
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.overflow = append(q.overflow, o)
	atomic.AddUint64(&q.metrics.Overflowed, 1)
	return true
}

func (q *Queue) Chan() <-chan Order {
	return q.ch
}

// Len reports total queue depth: channel buffer plus overflow.
func (q *Queue) Len() int {
	q.mu.Lock()
	overflow := len(q.overflow)
	q.mu.Unlock()
	return len(q.ch) + overflow
}

// OverflowLen reports only the overflow-buffer depth.
func (q *Queue) OverflowLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.overflow)
}

// PendingNotional sums qty*price over everything currently overflowed, a
// rough exposure estimate for the queue-metrics endpoint.
func (q *Queue) PendingNotional() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var total float64
	for _, o := range q.overflow {
		total += o.Qty * o.Price
	}
	return total
}

// GetMetrics returns a snapshot of queue counters.
func (q *Queue) GetMetrics() QueueMetrics {
	return QueueMetrics{
		Enqueued:   atomic.LoadUint64(&q.metrics.Enqueued),
		Dequeued:   atomic.LoadUint64(&q.metrics.Dequeued),
		Overflowed: atomic.LoadUint64(&q.metrics.Overflowed),
		Dropped:    atomic.LoadUint64(&q.metrics.Dropped),
	}
}

func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.ch)
}

// Drain consumes orders with a handler until context is canceled. It drains
// the bounded channel first, then sweeps any overflowed orders so nothing
// queued during a burst is silently lost.
func (q *Queue) Drain(ctx context.Context, handler func(Order)) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-q.ch:
			if !ok {
				q.drainOverflow(handler)
				return
			}
			atomic.AddUint64(&q.metrics.Dequeued, 1)
			handler(o)
			q.drainOverflow(handler)
		}
	}
}

func (q *Queue) drainOverflow(handler func(Order)) {
	for {
		q.mu.Lock()
		if len(q.overflow) == 0 {
			q.mu.Unlock()
			return
		}
		o := q.overflow[0]
		q.overflow = q.overflow[1:]
		q.mu.Unlock()
		atomic.AddUint64(&q.metrics.Dequeued, 1)
		handler(o)
	}
}

package buffer

import (
	"sync"

	"go.uber.org/zap"
)

// RingBuffer is a thread-safe bounded FIFO queue. When full, the oldest item
// is overwritten so the newest readings always survive an outage of the
// consumer.
type RingBuffer[T any] struct {
	mu          sync.Mutex
	data        []T
	capacity    int
	size        int
	head        int // next write position
	overwritten uint64
	warned      bool
	logger      *zap.Logger
}

// New creates a new RingBuffer with the specified capacity
func New[T any](capacity int, logger *zap.Logger) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Add appends an item, overwriting the oldest entry when the buffer is full
func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == rb.capacity {
		rb.overwritten++
		// once per fill, the consumer is clearly behind
		if !rb.warned {
			rb.warned = true
			rb.logger.Warn("ring buffer full, overwriting oldest entries",
				zap.Int("capacity", rb.capacity))
		}
	}

	rb.data[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	}
}

// Drain returns all buffered items, oldest first, and empties the buffer.
// It returns nil when the buffer is empty.
func (rb *RingBuffer[T]) Drain() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	items := rb.ordered()
	rb.reset()

	return items
}

// PutBack re-queues items that were drained but could not be delivered. They
// are placed ahead of anything added since the drain. If everything does not
// fit, the oldest items are dropped.
func (rb *RingBuffer[T]) PutBack(items []T) {
	if len(items) == 0 {
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	combined := append(append(make([]T, 0, len(items)+rb.size), items...), rb.ordered()...)
	if excess := len(combined) - rb.capacity; excess > 0 {
		rb.overwritten += uint64(excess)
		rb.logger.Warn("ring buffer cannot hold all re-queued items, dropping oldest",
			zap.Int("dropped", excess))
		combined = combined[excess:]
	}

	rb.reset()
	copy(rb.data, combined)
	rb.size = len(combined)
	rb.head = rb.size % rb.capacity
}

// Size returns the current number of entries in the buffer
func (rb *RingBuffer[T]) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Capacity returns the maximum capacity of the buffer
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// Overwritten returns how many items have been lost to overflow so far
func (rb *RingBuffer[T]) Overwritten() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.overwritten
}

// ordered copies the live entries, oldest first. Caller holds the lock.
func (rb *RingBuffer[T]) ordered() []T {
	if rb.size == 0 {
		return nil
	}

	out := make([]T, rb.size)
	start := (rb.head - rb.size + rb.capacity) % rb.capacity
	for i := 0; i < rb.size; i++ {
		out[i] = rb.data[(start+i)%rb.capacity]
	}
	return out
}

// reset empties the buffer and releases references held by old slots
func (rb *RingBuffer[T]) reset() {
	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.size = 0
	rb.head = 0
	rb.warned = false
}

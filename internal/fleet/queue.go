package fleet

import (
	"sync"

	"github.com/roach88/smartmove/internal/domain"
)

// telemetryQueue is a thread-safe unbounded FIFO of telemetry readings.
//
// Enqueue never blocks: the foreground path hands a reading over and
// returns. The single consumer in Run drains it with TryDequeue and
// parks on Wait when it is empty.
type telemetryQueue struct {
	mu       sync.Mutex
	readings []domain.Telemetry
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newTelemetryQueue() *telemetryQueue {
	return &telemetryQueue{
		readings: make([]domain.Telemetry, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends a reading. Returns false if the queue is closed.
func (q *telemetryQueue) Enqueue(t domain.Telemetry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.readings = append(q.readings, t)

	// Non-blocking; the one-slot buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front reading without blocking.
func (q *telemetryQueue) TryDequeue() (domain.Telemetry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.readings) == 0 {
		return domain.Telemetry{}, false
	}

	t := q.readings[0]
	if len(q.readings) == 1 {
		q.readings = q.readings[:0]
	} else {
		q.readings = q.readings[1:]
	}
	return t, true
}

// Wait returns a channel that fires when readings may be available.
// It is closed when the queue is closed.
func (q *telemetryQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current backlog.
func (q *telemetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.readings)
}

// Drained reports whether the queue is closed and empty, meaning the
// consumer can exit.
func (q *telemetryQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.readings) == 0
}

// Close stops accepting readings and wakes the consumer.
func (q *telemetryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

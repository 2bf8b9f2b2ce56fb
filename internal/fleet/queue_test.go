package fleet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smartmove/internal/domain"
)

func TestTelemetryQueue_FIFO(t *testing.T) {
	q := newTelemetryQueue()

	for _, id := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(domain.Telemetry{VehicleID: id}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.VehicleID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestTelemetryQueue_SignalCoalesces(t *testing.T) {
	q := newTelemetryQueue()

	// Enqueue must not block even though nobody drains the signal.
	for i := 0; i < 100; i++ {
		q.Enqueue(domain.Telemetry{VehicleID: "v"})
	}

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce into one")
	default:
	}
}

func TestTelemetryQueue_Close(t *testing.T) {
	q := newTelemetryQueue()
	q.Enqueue(domain.Telemetry{VehicleID: "v1"})

	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(domain.Telemetry{VehicleID: "v2"}), "enqueue after close should fail")
	assert.False(t, q.Drained(), "closed queue with backlog is not drained")

	_, ok := q.TryDequeue()
	require.True(t, ok, "backlog survives close")
	assert.True(t, q.Drained())

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("Wait should fire once closed")
	}
}

func TestTelemetryQueue_ConcurrentProducers(t *testing.T) {
	q := newTelemetryQueue()

	const producers, each = 10, 100
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Enqueue(domain.Telemetry{VehicleID: "v"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*each, q.Len())
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.OperationCompleted("reserve", nil, 2*time.Millisecond)
	p.OperationCompleted("reserve", errors.New("boom"), time.Millisecond)
	if got := testutil.ToFloat64(p.operations.WithLabelValues("reserve", "ok")); got != 1 {
		t.Fatalf("expected 1 ok reserve, got %f", got)
	}
	if got := testutil.ToFloat64(p.operations.WithLabelValues("reserve", "error")); got != 1 {
		t.Fatalf("expected 1 failed reserve, got %f", got)
	}
	if samples := testutil.CollectAndCount(p.latency); samples != 1 {
		t.Fatalf("expected one latency series, got %d", samples)
	}

	p.RuleTriggered("theft")
	p.RuleTriggered("theft")
	if got := testutil.ToFloat64(p.rules.WithLabelValues("theft")); got != 2 {
		t.Fatalf("expected theft counter 2, got %f", got)
	}

	p.TelemetryProcessed(OutcomeUnknownVehicle)
	if got := testutil.ToFloat64(p.telemetry.WithLabelValues(OutcomeUnknownVehicle)); got != 1 {
		t.Fatalf("expected unknown_vehicle counter 1, got %f", got)
	}

	p.QueueLength(7)
	if got := testutil.ToFloat64(p.queue); got != 7 {
		t.Fatalf("expected queue gauge 7, got %f", got)
	}

	p.RollbackAttempted("telemetry", nil)
	if got := testutil.ToFloat64(p.rollbacks.WithLabelValues("telemetry", "ok")); got != 1 {
		t.Fatalf("expected rollback counter 1, got %f", got)
	}

	p.AuditAppended("PAYMENT")
	if got := testutil.ToFloat64(p.audit.WithLabelValues("PAYMENT")); got != 1 {
		t.Fatalf("expected audit counter 1, got %f", got)
	}
}

func TestNewProm_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewProm(reg)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	NewProm(reg)
}

func TestNop_SatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.OperationCompleted("x", nil, 0)
	r.QueueLength(1)
}

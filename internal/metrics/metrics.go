// Package metrics exposes fleet controller instrumentation.
//
// Recorder is the narrow interface the controller reports into. Prom
// implements it with Prometheus collectors; Nop discards everything and
// is the default when no registry is wired.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry outcomes reported through TelemetryProcessed.
const (
	OutcomeApplied        = "applied"
	OutcomeUnknownVehicle = "unknown_vehicle"
	OutcomeFailed         = "failed"
	OutcomeDropped        = "dropped"
)

// Recorder receives controller events.
type Recorder interface {
	// OperationCompleted records one public controller operation.
	OperationCompleted(op string, err error, elapsed time.Duration)
	// RuleTriggered records a safety rule firing, e.g. "theft".
	RuleTriggered(rule string)
	// TelemetryProcessed records the outcome for one dequeued reading.
	TelemetryProcessed(outcome string)
	// QueueLength reports the current telemetry backlog.
	QueueLength(n int)
	// RollbackAttempted records a snapshot restore and whether it failed.
	RollbackAttempted(op string, err error)
	// AuditAppended counts audit entries by event name.
	AuditAppended(event string)
}

// Nop is a Recorder that does nothing.
type Nop struct{}

func (Nop) OperationCompleted(string, error, time.Duration) {}
func (Nop) RuleTriggered(string)                           {}
func (Nop) TelemetryProcessed(string)                      {}
func (Nop) QueueLength(int)                                {}
func (Nop) RollbackAttempted(string, error)                {}
func (Nop) AuditAppended(string)                           {}

// Prom records into Prometheus collectors.
type Prom struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	rules      *prometheus.CounterVec
	telemetry  *prometheus.CounterVec
	queue      prometheus.Gauge
	rollbacks  *prometheus.CounterVec
	audit      *prometheus.CounterVec
}

// NewProm creates the collectors and registers them with reg.
// Panics if registration fails, like prometheus.MustRegister.
func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartmove_operations_total",
			Help: "Controller operations by name and result.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smartmove_operation_duration_seconds",
			Help:    "Controller operation latency including lock wait.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
		rules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartmove_safety_rules_total",
			Help: "Telemetry safety rules fired, by rule.",
		}, []string{"rule"}),
		telemetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartmove_telemetry_processed_total",
			Help: "Telemetry readings taken off the queue, by outcome.",
		}, []string{"outcome"}),
		queue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartmove_telemetry_queue_length",
			Help: "Current number of telemetry readings waiting to be processed.",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartmove_rollbacks_total",
			Help: "Snapshot restores after a failed write, by op and result.",
		}, []string{"op", "result"}),
		audit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartmove_audit_entries_total",
			Help: "Audit entries appended, by event.",
		}, []string{"event"}),
	}

	reg.MustRegister(p.operations, p.latency, p.rules, p.telemetry, p.queue, p.rollbacks, p.audit)
	return p
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (p *Prom) OperationCompleted(op string, err error, elapsed time.Duration) {
	p.operations.WithLabelValues(op, result(err)).Inc()
	p.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (p *Prom) RuleTriggered(rule string) {
	p.rules.WithLabelValues(rule).Inc()
}

func (p *Prom) TelemetryProcessed(outcome string) {
	p.telemetry.WithLabelValues(outcome).Inc()
}

func (p *Prom) QueueLength(n int) {
	p.queue.Set(float64(n))
}

func (p *Prom) RollbackAttempted(op string, err error) {
	p.rollbacks.WithLabelValues(op, result(err)).Inc()
}

func (p *Prom) AuditAppended(event string) {
	p.audit.WithLabelValues(event).Inc()
}

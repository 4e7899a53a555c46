// Package metrics defines the Prometheus collectors of the gateway.
//
// Metric naming follows Prometheus conventions:
//   - idgw_ prefix for all custom metrics
//   - _total suffix for counters
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors and implements the observer hooks of the
// gate, lifecycle service and scheduler.
type Metrics struct {
	GateOutcomes      *prometheus.CounterVec
	LifecycleOps      *prometheus.CounterVec
	PendingReenables  prometheus.Gauge
	ReenableRuns      *prometheus.CounterVec
	AuditRecordsTotal prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GateOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idgw_gate_outcomes_total",
				Help: "Authentication gate results by outcome.",
			},
			[]string{"outcome"},
		),
		LifecycleOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idgw_lifecycle_operations_total",
				Help: "Account lifecycle operations by operation and result.",
			},
			[]string{"operation", "result"},
		),
		PendingReenables: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idgw_scheduled_reenable_pending",
				Help: "Re-enable tasks waiting for their deadline or a worker.",
			},
		),
		ReenableRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idgw_scheduled_reenable_runs_total",
				Help: "Executed re-enable tasks by result.",
			},
			[]string{"result"},
		),
		AuditRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idgw_audit_records_total",
				Help: "User change records appended to the audit trail.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.GateOutcomes,
			m.LifecycleOps,
			m.PendingReenables,
			m.ReenableRuns,
			m.AuditRecordsTotal,
		)
	}
	return m
}

func (m *Metrics) GateOutcome(outcome string) {
	m.GateOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LifecycleOperation(operation, result string) {
	m.LifecycleOps.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ScheduledPending(delta int) {
	m.PendingReenables.Add(float64(delta))
}

func (m *Metrics) ScheduledDone(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ReenableRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) AuditRecorded() {
	m.AuditRecordsTotal.Inc()
}

// Package obsmetrics wires Prometheus instrumentation the way the teacher's
// internal/ai.PatrolMetrics does (CounterVec fields registered once, plain
// Record* methods), but takes an explicit prometheus.Registerer instead of
// hanging off a package-level singleton, so tests can register a fresh
// *prometheus.Registry per case instead of panicking on re-registration
// against the global default registry.
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every gauge/counter the coordinator publishes to (spec.md
// §5's self-metering hook and §4.I/§4.L outcome reporting).
type Metrics struct {
	BudgetBreachTotal  *prometheus.CounterVec
	WorkerInflight     prometheus.Gauge
	ActionOutcomeTotal *prometheus.CounterVec
	VerifyOutcomeTotal *prometheus.CounterVec
	GateBlockedTotal   *prometheus.CounterVec
}

// New builds and registers a Metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BudgetBreachTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "triage",
				Name:      "budget_breach_total",
				Help:      "Total cooperative backoffs triggered by overhead budget breaches",
			},
			[]string{"resource"},
		),
		WorkerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "triage",
				Name:      "worker_inflight",
				Help:      "Number of per-PID probe/action workers currently dispatched",
			},
		),
		ActionOutcomeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "triage",
				Name:      "action_outcomes_total",
				Help:      "Total staged actions by action kind and terminal outcome",
			},
			[]string{"action", "outcome"},
		),
		VerifyOutcomeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "triage",
				Name:      "verify_outcomes_total",
				Help:      "Total verification classifications by outcome",
			},
			[]string{"outcome"},
		),
		GateBlockedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "triage",
				Name:      "gate_blocked_total",
				Help:      "Total actions blocked by the gate evaluator, by gate name",
			},
			[]string{"gate"},
		),
	}

	reg.MustRegister(
		m.BudgetBreachTotal,
		m.WorkerInflight,
		m.ActionOutcomeTotal,
		m.VerifyOutcomeTotal,
		m.GateBlockedTotal,
	)

	return m
}

// RecordBudgetBreach records a cooperative backoff for the named resource
// (cpu, memory, io).
func (m *Metrics) RecordBudgetBreach(resource string) {
	m.BudgetBreachTotal.WithLabelValues(resource).Inc()
}

// SetWorkerInflight reports the current worker-pool occupancy.
func (m *Metrics) SetWorkerInflight(n int) {
	m.WorkerInflight.Set(float64(n))
}

// RecordActionOutcome records one terminal action outcome.
func (m *Metrics) RecordActionOutcome(action, outcome string) {
	m.ActionOutcomeTotal.WithLabelValues(action, outcome).Inc()
}

// RecordVerifyOutcome records one verification classification.
func (m *Metrics) RecordVerifyOutcome(outcome string) {
	m.VerifyOutcomeTotal.WithLabelValues(outcome).Inc()
}

// RecordGateBlocked records one action blocked by a named gate.
func (m *Metrics) RecordGateBlocked(gate string) {
	m.GateBlockedTotal.WithLabelValues(gate).Inc()
}

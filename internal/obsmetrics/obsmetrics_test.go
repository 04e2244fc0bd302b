package obsmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector, labelValues ...string) float64 {
	t.Helper()
	vec, ok := c.(*prometheus.CounterVec)
	require.True(t, ok)
	m := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(labelValues...).(prometheus.Metric).Write(m))
	return m.GetCounter().GetValue()
}

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	assert.NotNil(t, m.BudgetBreachTotal)
	assert.NotNil(t, m.WorkerInflight)
	assert.NotNil(t, m.ActionOutcomeTotal)
}

func TestRecordBudgetBreachIncrementsLabeledCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordBudgetBreach("cpu")
	m.RecordBudgetBreach("cpu")
	assert.Equal(t, 2.0, counterValue(t, m.BudgetBreachTotal, "cpu"))
}

func TestSetWorkerInflightReflectsLatestValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetWorkerInflight(3)
	out := &dto.Metric{}
	require.NoError(t, m.WorkerInflight.Write(out))
	assert.Equal(t, 3.0, out.GetGauge().GetValue())
}

func TestRecordActionOutcomeLabelsByActionAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordActionOutcome("kill", "succeeded")
	assert.Equal(t, 1.0, counterValue(t, m.ActionOutcomeTotal, "kill", "succeeded"))
	assert.Equal(t, 0.0, counterValue(t, m.ActionOutcomeTotal, "kill", "failed"))
}

func TestRecordGateBlockedLabelsByGate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordGateBlocked("identity_valid")
	assert.Equal(t, 1.0, counterValue(t, m.GateBlockedTotal, "identity_valid"))
}

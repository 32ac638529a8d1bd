package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncTargetMaterialized("project")
	collector.IncValidationFailure("project", "field")
}

func TestPrometheusCollectorRegistersAndReusesCounters(t *testing.T) {
	materializedCounterLock.Lock()
	materializedCounter = nil
	materializedCounterLock.Unlock()
	failureCounterLock.Lock()
	failureCounter = nil
	failureCounterLock.Unlock()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncTargetMaterialized("project")
	collector.IncValidationFailure("project", "target")

	metrics, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, metrics, 2)

	byName := make(map[string]*dto.MetricFamily, len(metrics))
	for _, mf := range metrics {
		byName[mf.GetName()] = mf
	}
	requireCounterValue(t, byName["faasdef_targets_materialized_total"], 1)
	requireCounterValue(t, byName["faasdef_target_validation_failures_total"], 1)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.materialized, again.materialized)
	require.Same(t, collector.failures, again.failures)

	again.IncTargetMaterialized("project")

	metrics, err = reg.Gather()
	require.NoError(t, err)
	byName = make(map[string]*dto.MetricFamily, len(metrics))
	for _, mf := range metrics {
		byName[mf.GetName()] = mf
	}
	requireCounterValue(t, byName["faasdef_targets_materialized_total"], 2)
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.NotNil(t, mf)
	require.Len(t, mf.Metric, 1)
	require.Equal(t, value, mf.Metric[0].GetCounter().GetValue())
}

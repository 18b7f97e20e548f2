package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTimer_ObservesOnDeferredExit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	func() {
		defer m.StartTimer("t1", "memory", "create")()
	}()
	func() {
		defer func() { _ = recover() }()
		defer m.StartTimer("t1", "memory", "create")()
		panic("backend exploded")
	}()

	count := testutil.CollectAndCount(m.BackendCallDuration, "paracore_backend_call_duration_seconds")
	assert.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, f := range families {
		if f.GetName() == "paracore_backend_call_duration_seconds" {
			samples = f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), samples)
}

func TestRecordError(t *testing.T) {
	m := NewNopMetrics()
	m.RecordError("t1", "redis", "put")
	m.RecordError("t1", "redis", "put")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BackendCallErrors.WithLabelValues("t1", "redis", "put")))
}

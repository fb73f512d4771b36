package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestCollectorsAreRegistered(t *testing.T) {
	writes := RepositoryWrites.WithLabelValues("products", PathQueued, OutcomeOK)
	before := value(t, writes)
	writes.Inc()
	assert.Equal(t, before+1, value(t, writes))

	QueueDepth.Set(3)
	assert.Equal(t, float64(3), value(t, QueueDepth))

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["till_pending_operations"])
	assert.True(t, names["till_repository_writes_total"])
}

package metrics

import (
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllMetricsUnderServiceLabel(t *testing.T) {
	r := New("matching")

	r.WALAppends.Inc()
	r.WALAppends.Inc()
	r.CommandsExecuted.Inc()

	metricFamilies, err := r.reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() != "wal_appends_total" {
			continue
		}
		found = true
		require.Len(t, mf.Metric, 1)
		m := mf.Metric[0]
		assert.Equal(t, float64(2), m.GetCounter().GetValue())
		assertHasLabel(t, m, "service", "matching")
	}
	assert.True(t, found, "wal_appends_total metric family should be registered")
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	r := New("balance")
	r.QueueDepth.Set(7)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue_depth")
}

func assertHasLabel(t *testing.T, m *dto.Metric, name, value string) {
	t.Helper()
	for _, lp := range m.Label {
		if lp.GetName() == name {
			assert.Equal(t, value, lp.GetValue())
			return
		}
	}
	t.Fatalf("label %s not found", name)
}

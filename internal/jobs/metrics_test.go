package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	boom := errors.New("boom")

	assert.NoError(t, m.Track("quoting:totals:materialize").End(nil))
	assert.ErrorIs(t, m.Track("quoting:totals:materialize").End(boom), boom)

	assert.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("quoting:totals:materialize", "success")))
	assert.Equal(t, 1.0, counterValue(t, m.failures.WithLabelValues("quoting:totals:materialize")))
}

func TestAddMaterialization(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddMaterialization("written")
	m.AddMaterialization("written")
	m.AddMaterialization("")
	assert.Equal(t, 2.0, counterValue(t, m.materializations.WithLabelValues("written")))
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("x").End(boom), boom)
	m.AddMaterialization("written")
	m.AddLockContention("x")
}

func TestAddLockContention(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddLockContention("quoting:totals:retract")
	assert.Equal(t, 1.0, counterValue(t, m.lockContention.WithLabelValues("quoting:totals:retract")))
	assert.Equal(t, 0.0, counterValue(t, m.lockContention.WithLabelValues("quoting:totals:materialize")))
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNewRegistersAllSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LatestIngested.Set(42)
	require.Equal(t, float64(42), gaugeValue(t, m.LatestIngested))

	m.SyncErrors.Inc()
	m.RequestsTotal.WithLabelValues("/events", "200").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

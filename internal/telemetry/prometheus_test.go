package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestPrometheusGaugesRefreshReflectsSnapshot(t *testing.T) {
	r := New()
	r.AdmissionEnqueued()
	r.SandboxSpawned()

	reg := prometheus.NewRegistry()
	g := NewPrometheusGauges(r, reg)
	g.Refresh()

	var m dto.Metric
	require.NoError(t, g.queued.Write(&m))
	require.Equal(t, float64(1), m.GetGauge().GetValue())

	m = dto.Metric{}
	require.NoError(t, g.sandboxesTotal.Write(&m))
	require.Equal(t, float64(1), m.GetGauge().GetValue())
}

func TestPrometheusGaugesRefreshNilSafe(t *testing.T) {
	var g *PrometheusGauges
	g.Refresh() // must not panic
}

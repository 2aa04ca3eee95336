package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusGauges mirrors a Recorder's live Snapshot into a Prometheus
// registry served on the admin /metrics route, so an operator can
// point a standard Prometheus scraper at execd without an OTLP collector.
type PrometheusGauges struct {
	recorder *Recorder

	queued           prometheus.Gauge
	active           prometheus.Gauge
	activeClients    prometheus.Gauge
	sandboxesTotal   prometheus.Gauge
	sandboxesActive  prometheus.Gauge
	sandboxesIdle    prometheus.Gauge
	droppedFrames    prometheus.Gauge
	stageP50         *prometheus.GaugeVec
	stageP95         *prometheus.GaugeVec
	stageP99         *prometheus.GaugeVec
}

// NewPrometheusGauges registers the live-count and stage-percentile
// gauges onto reg and returns a handle whose Refresh method updates them
// from recorder; the gauges change only when Refresh is called.
func NewPrometheusGauges(recorder *Recorder, reg prometheus.Registerer) *PrometheusGauges {
	g := &PrometheusGauges{
		recorder: recorder,
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execd_queue_depth", Help: "Jobs currently parked in the admission queue.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execd_jobs_active", Help: "Jobs currently admitted and running.",
		}),
		activeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execd_sessions_active", Help: "WebSocket sessions currently connected.",
		}),
		sandboxesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execd_sandboxes_total", Help: "Sandboxes currently tracked by the pool, any state.",
		}),
		sandboxesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execd_sandboxes_leased", Help: "Sandboxes currently leased to a running job.",
		}),
		sandboxesIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execd_sandboxes_idle", Help: "Sandboxes currently idle in a warm pool.",
		}),
		droppedFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execd_output_frames_dropped_total", Help: "Cumulative output frames dropped by the I/O multiplexer's backpressure policy.",
		}),
		stageP50: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "execd_stage_duration_p50_ms", Help: "p50 duration of a pipeline stage, in milliseconds.",
		}, []string{"stage"}),
		stageP95: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "execd_stage_duration_p95_ms", Help: "p95 duration of a pipeline stage, in milliseconds.",
		}, []string{"stage"}),
		stageP99: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "execd_stage_duration_p99_ms", Help: "p99 duration of a pipeline stage, in milliseconds.",
		}, []string{"stage"}),
	}

	reg.MustRegister(g.queued, g.active, g.activeClients, g.sandboxesTotal,
		g.sandboxesActive, g.sandboxesIdle, g.droppedFrames, g.stageP50, g.stageP95, g.stageP99)
	return g
}

// Refresh pulls a fresh Snapshot from the recorder and updates every
// gauge. Call this immediately before a scrape, or on a short ticker.
func (g *PrometheusGauges) Refresh() {
	if g == nil || g.recorder == nil {
		return
	}
	snap := g.recorder.Snapshot()

	g.queued.Set(float64(snap.Queued))
	g.active.Set(float64(snap.Active))
	g.activeClients.Set(float64(snap.ActiveClients))
	g.sandboxesTotal.Set(float64(snap.SandboxesTotal))
	g.sandboxesActive.Set(float64(snap.SandboxesActive))
	g.sandboxesIdle.Set(float64(snap.SandboxesIdle))

	for stage, p := range snap.StagePercentiles {
		g.stageP50.WithLabelValues(stage).Set(p.P50)
		g.stageP95.WithLabelValues(stage).Set(p.P95)
		g.stageP99.WithLabelValues(stage).Set(p.P99)
	}

	g.droppedFrames.Set(float64(snap.DroppedFrames))
}

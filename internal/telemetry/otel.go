package telemetry

import (
	"context"
	"log/slog"
	"time"

	metricsgo "github.com/coderunner/execd/utils/metrics-go"
)

// OtelExporter forwards Recorder events to an OTLP metrics endpoint via
// the shared MetricCreator, so per-stage latencies and outcome counts are
// visible to an external observability stack in addition to the admin
// HTTP snapshot.
type OtelExporter struct {
	mc     *metricsgo.MetricCreator
	logger *slog.Logger
}

// NewOtelExporter wraps an already-initialized MetricCreator. Passing a
// nil mc makes every method a no-op, matching the recorder's own
// graceful-degradation behavior when metrics export is disabled.
func NewOtelExporter(mc *metricsgo.MetricCreator, logger *slog.Logger) *OtelExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OtelExporter{mc: mc, logger: logger}
}

// RecordJob exports one completed job's total duration and outcome.
// Telemetry export failures are logged and swallowed per the error
// taxonomy's propagation policy; they never fail the job they describe.
func (e *OtelExporter) RecordJob(sd StageDurations) {
	if e.mc == nil {
		return
	}
	ctx := context.Background()
	tags := map[string]string{
		"language": sd.Language,
		"outcome":  sd.Outcome,
		"reused":   boolTag(sd.Reused),
	}
	if err := e.mc.RecordHistogram(ctx, "execd.job.duration",
		float64(sd.Total.Microseconds())/1000.0, "ms",
		"total job wall-clock duration", tags); err != nil {
		e.logger.Warn("failed to export job duration metric", slog.String("error", err.Error()))
	}
	if err := e.mc.RecordCounter(ctx, "execd.job.completed", 1, "1",
		"completed job count", tags); err != nil {
		e.logger.Warn("failed to export job completion metric", slog.String("error", err.Error()))
	}
}

// RecordSandboxSpawn exports one spawn attempt's outcome, matching the
// boundary-behavior requirement that a failed-then-succeeded spawn
// records two distinct telemetry events.
func (e *OtelExporter) RecordSandboxSpawn(language string, ok bool) {
	if e.mc == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "fail"
	}
	if err := e.mc.RecordCounter(context.Background(), "execd.sandbox.spawn", 1, "1",
		"sandbox spawn attempts", map[string]string{"language": language, "outcome": outcome}); err != nil {
		e.logger.Warn("failed to export sandbox spawn metric", slog.String("error", err.Error()))
	}
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Shutdown flushes and releases the underlying MetricCreator, if any.
func (e *OtelExporter) Shutdown(ctx context.Context) error {
	if e.mc == nil {
		return nil
	}
	return e.mc.Shutdown(ctx)
}

// DefaultExportInterval is used when no explicit interval is configured.
const DefaultExportInterval = 6 * time.Second

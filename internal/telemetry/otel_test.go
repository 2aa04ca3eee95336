package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// OtelExporter's methods are only ever called through a non-nil pointer
// obtained from NewOtelExporter (see Pipeline's `if p.otel != nil` guard);
// the degrade path unit-testable without a live OTLP collector is a nil
// MetricCreator, used when metrics export is disabled at startup.

func TestOtelExporterNilMetricCreatorIsSafe(t *testing.T) {
	e := NewOtelExporter(nil, nil)
	e.RecordJob(StageDurations{Language: "python", Outcome: "ok"})
	e.RecordSandboxSpawn("python", true)
	require.NoError(t, e.Shutdown(context.Background()))
}

func TestBoolTag(t *testing.T) {
	require.Equal(t, "true", boolTag(true))
	require.Equal(t, "false", boolTag(false))
}

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONArchiveWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	a, err := NewJSONArchive(dir, nil)
	require.NoError(t, err)

	m := DailyMetrics{Date: "2026-01-15", Total: 42, Successful: 40, Failed: 2}
	a.Write(m)

	got, ok := a.Read("2026-01-15")
	require.True(t, ok)
	require.Equal(t, m.Total, got.Total)
	require.Equal(t, m.Successful, got.Successful)
}

func TestJSONArchiveReadMissingDateIsNotFound(t *testing.T) {
	dir := t.TempDir()
	a, err := NewJSONArchive(dir, nil)
	require.NoError(t, err)

	_, ok := a.Read("2020-01-01")
	require.False(t, ok)
}

func TestJSONArchiveNilReceiverIsSafe(t *testing.T) {
	var a *JSONArchive
	a.Write(DailyMetrics{Date: "2026-01-15"})
	_, ok := a.Read("2026-01-15")
	require.False(t, ok)
}

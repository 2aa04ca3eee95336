package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/coderunner/execd/utils/atomicfile"
)

// JSONArchive writes each day's rollup to report-YYYY-MM-DD.json in a
// configured directory, giving an operator a durable record that
// survives a process restart without requiring Postgres.
type JSONArchive struct {
	writer *atomicfile.Writer
	logger *slog.Logger
}

// NewJSONArchive roots the archive at dir, creating it if absent.
func NewJSONArchive(dir string, logger *slog.Logger) (*JSONArchive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := atomicfile.New(dir)
	if err != nil {
		return nil, err
	}
	return &JSONArchive{writer: w, logger: logger}, nil
}

// Write atomically replaces report-<date>.json with m's contents.
// Intended as a Recorder.OnRollover hook; write failures are logged, not
// propagated, matching this package's telemetry-never-fatal policy.
func (a *JSONArchive) Write(m DailyMetrics) {
	if a == nil || a.writer == nil {
		return
	}
	name := fmt.Sprintf("report-%s.json", m.Date)
	if err := a.writer.WriteJSON(name, m); err != nil {
		a.logger.Warn("failed to archive daily report", slog.String("error", err.Error()), slog.String("date", m.Date))
	}
}

// Read loads a previously archived report for the given YYYY-MM-DD date.
func (a *JSONArchive) Read(date string) (DailyMetrics, bool) {
	var m DailyMetrics
	if a == nil || a.writer == nil {
		return m, false
	}
	data, err := a.writer.Read(fmt.Sprintf("report-%s.json", date))
	if err != nil {
		return m, false
	}
	if err := json.Unmarshal(data, &m); err != nil {
		a.logger.Warn("failed to parse archived report", slog.String("error", err.Error()), slog.String("date", date))
		return DailyMetrics{}, false
	}
	return m, true
}

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	pgutil "github.com/coderunner/execd/utils/postgres"
)

// dailyMetricsSchema is the table PostgresArchive expects to exist. Kept
// here as documentation rather than run automatically: migrations are
// expected to be applied out of band, matching how every other external
// dependency in this codebase (redis, the sandbox runtime) assumes a
// pre-provisioned backing service rather than self-provisioning one.
const dailyMetricsSchema = `
CREATE TABLE IF NOT EXISTS daily_metrics (
	date                  date PRIMARY KEY,
	total                 bigint NOT NULL,
	successful            bigint NOT NULL,
	failed                bigint NOT NULL,
	unique_sessions       bigint NOT NULL,
	unique_sandboxes      bigint NOT NULL,
	latency_min_ms        double precision NOT NULL,
	latency_avg_ms        double precision NOT NULL,
	latency_median_ms     double precision NOT NULL,
	latency_p95_ms        double precision NOT NULL,
	latency_p99_ms        double precision NOT NULL,
	latency_max_ms        double precision NOT NULL,
	requests_by_language  jsonb NOT NULL,
	requests_by_outcome   jsonb NOT NULL
)`

// PostgresArchive persists DailyMetrics rollups to a daily_metrics table,
// in addition to (or instead of) the JSON file archive. It is an additive
// domain-stack feature: telemetry export never blocks or fails a job on
// a write error here, matching this package's other exporters.
type PostgresArchive struct {
	client *pgutil.Client
	logger *slog.Logger
}

// NewPostgresArchive wraps an already-connected postgres client.
func NewPostgresArchive(client *pgutil.Client, logger *slog.Logger) *PostgresArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresArchive{client: client, logger: logger}
}

// Schema returns the table definition PostgresArchive expects.
func Schema() string { return dailyMetricsSchema }

// UpsertDailyMetrics writes or replaces the rollup for one day. Intended
// as a Recorder.OnRollover hook.
func (a *PostgresArchive) UpsertDailyMetrics(ctx context.Context, m DailyMetrics) error {
	if a == nil || a.client == nil {
		return nil
	}
	byLang, err := json.Marshal(m.RequestsByLanguage)
	if err != nil {
		return fmt.Errorf("marshal requests_by_language: %w", err)
	}
	byOutcome, err := json.Marshal(m.RequestsByOutcome)
	if err != nil {
		return fmt.Errorf("marshal requests_by_outcome: %w", err)
	}

	_, err = a.client.Pool().Exec(ctx, `
		INSERT INTO daily_metrics (
			date, total, successful, failed, unique_sessions, unique_sandboxes,
			latency_min_ms, latency_avg_ms, latency_median_ms, latency_p95_ms, latency_p99_ms, latency_max_ms,
			requests_by_language, requests_by_outcome
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (date) DO UPDATE SET
			total = EXCLUDED.total,
			successful = EXCLUDED.successful,
			failed = EXCLUDED.failed,
			unique_sessions = EXCLUDED.unique_sessions,
			unique_sandboxes = EXCLUDED.unique_sandboxes,
			latency_min_ms = EXCLUDED.latency_min_ms,
			latency_avg_ms = EXCLUDED.latency_avg_ms,
			latency_median_ms = EXCLUDED.latency_median_ms,
			latency_p95_ms = EXCLUDED.latency_p95_ms,
			latency_p99_ms = EXCLUDED.latency_p99_ms,
			latency_max_ms = EXCLUDED.latency_max_ms,
			requests_by_language = EXCLUDED.requests_by_language,
			requests_by_outcome = EXCLUDED.requests_by_outcome
	`, m.Date, m.Total, m.Successful, m.Failed, m.UniqueSessions, m.UniqueSandboxes,
		m.LatencyMin, m.LatencyAvg, m.LatencyMedian, m.LatencyP95, m.LatencyP99, m.LatencyMax,
		byLang, byOutcome)
	if err != nil {
		a.logger.Warn("failed to upsert daily metrics", slog.String("error", err.Error()), slog.String("date", m.Date))
		return err
	}
	return nil
}

// GetDailyMetrics fetches the rollup for a YYYY-MM-DD date, for the
// admin /reports endpoint. ok=false means no rollup exists for that date.
func (a *PostgresArchive) GetDailyMetrics(ctx context.Context, date string) (DailyMetrics, bool, error) {
	if a == nil || a.client == nil {
		return DailyMetrics{}, false, nil
	}
	var m DailyMetrics
	var byLang, byOutcome []byte
	row := a.client.Pool().QueryRow(ctx, `
		SELECT date::text, total, successful, failed, unique_sessions, unique_sandboxes,
			latency_min_ms, latency_avg_ms, latency_median_ms, latency_p95_ms, latency_p99_ms, latency_max_ms,
			requests_by_language, requests_by_outcome
		FROM daily_metrics WHERE date = $1
	`, date)
	err := row.Scan(&m.Date, &m.Total, &m.Successful, &m.Failed, &m.UniqueSessions, &m.UniqueSandboxes,
		&m.LatencyMin, &m.LatencyAvg, &m.LatencyMedian, &m.LatencyP95, &m.LatencyP99, &m.LatencyMax,
		&byLang, &byOutcome)
	if errors.Is(err, pgx.ErrNoRows) {
		return DailyMetrics{}, false, nil
	}
	if err != nil {
		return DailyMetrics{}, false, fmt.Errorf("query daily_metrics: %w", err)
	}
	if err := json.Unmarshal(byLang, &m.RequestsByLanguage); err != nil {
		return DailyMetrics{}, false, fmt.Errorf("unmarshal requests_by_language: %w", err)
	}
	if err := json.Unmarshal(byOutcome, &m.RequestsByOutcome); err != nil {
		return DailyMetrics{}, false, fmt.Errorf("unmarshal requests_by_outcome: %w", err)
	}
	return m, true, nil
}

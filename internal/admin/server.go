// Package admin implements the read-mostly HTTP administration surface:
// live counters, per-stage percentiles, recent structured logs, archived
// daily reports, and a destructive counter reset, all gated by the
// single administrator credential in internal/adminauth.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/coderunner/execd/internal/adminauth"
	"github.com/coderunner/execd/internal/adminlog"
	"github.com/coderunner/execd/internal/telemetry"
)

// Server builds the admin HTTP handler. Its two report sources are both
// optional: when both are nil, GET /reports reports "not found" for
// every date (a request without a date is still a 400).
type Server struct {
	recorder *telemetry.Recorder
	gauges   *telemetry.PrometheusGauges
	logs     *adminlog.Ring
	jsonArc  *telemetry.JSONArchive
	pgArc    *telemetry.PostgresArchive
	logger   *slog.Logger
}

// New builds the admin Server. gauges, jsonArc, and pgArc may each be nil.
func New(recorder *telemetry.Recorder, gauges *telemetry.PrometheusGauges, logs *adminlog.Ring,
	jsonArc *telemetry.JSONArchive, pgArc *telemetry.PostgresArchive, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{recorder: recorder, gauges: gauges, logs: logs, jsonArc: jsonArc, pgArc: pgArc, logger: logger}
}

// Handler assembles the routed, credential-gated, otelhttp-instrumented
// admin HTTP handler.
func (s *Server) Handler(credentialHash string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/pipeline-metrics", s.handlePipelineMetrics).Methods(http.MethodGet)
	r.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	r.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/reports", s.handleReports).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics(promhttp.Handler())).Methods(http.MethodGet)

	protected := adminauth.Middleware(credentialHash)(r)
	return otelhttp.NewHandler(protected, "execd-admin")
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode admin response", slog.String("error", err.Error()))
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.recorder.Snapshot())
}

func (s *Server) handlePipelineMetrics(w http.ResponseWriter, r *http.Request) {
	if s.gauges != nil {
		s.gauges.Refresh()
	}
	snap := s.recorder.Snapshot()
	s.writeJSON(w, struct {
		StagePercentiles map[string]telemetry.Percentiles `json:"stagePercentiles"`
		SlowExecutions   []telemetry.SlowExecution         `json:"slowExecutions"`
	}{StagePercentiles: snap.StagePercentiles, SlowExecutions: snap.SlowExecutions})
}

// handleMetrics wraps the standard promhttp.Handler so every scrape first
// pulls a fresh Snapshot into the gauges, rather than relying on
// /pipeline-metrics having been polled recently.
func (s *Server) handleMetrics(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.gauges != nil {
			s.gauges.Refresh()
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries := s.logs.Query(adminlog.Filter{
		Level:    q.Get("level"),
		Category: q.Get("category"),
		Search:   q.Get("search"),
		Limit:    limit,
	})
	s.writeJSON(w, entries)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.recorder.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date query parameter is required", http.StatusBadRequest)
		return
	}

	if s.jsonArc != nil {
		if m, ok := s.jsonArc.Read(date); ok {
			s.writeJSON(w, m)
			return
		}
	}
	if s.pgArc != nil {
		m, ok, err := s.pgArc.GetDailyMetrics(r.Context(), date)
		if err != nil {
			s.logger.Warn("failed to load archived report", slog.String("error", err.Error()), slog.String("date", date))
			http.Error(w, "failed to load report", http.StatusInternalServerError)
			return
		}
		if ok {
			s.writeJSON(w, m)
			return
		}
	}
	http.Error(w, "no report archived for that date", http.StatusNotFound)
}

// Package service wires every component into one constructor-injected
// value: the admission queue, sandbox pool and its sweeper, the I/O
// multiplexer, the execution pipeline, the session gateway, the admin
// HTTP surface, and the telemetry exporters, assembled once at process
// startup and owned for the process's lifetime.
package service

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coderunner/execd/internal/admin"
	"github.com/coderunner/execd/internal/adminlog"
	"github.com/coderunner/execd/internal/admission"
	"github.com/coderunner/execd/internal/config"
	"github.com/coderunner/execd/internal/driver"
	"github.com/coderunner/execd/internal/iomux"
	"github.com/coderunner/execd/internal/languages"
	"github.com/coderunner/execd/internal/pipeline"
	"github.com/coderunner/execd/internal/sandbox"
	"github.com/coderunner/execd/internal/session"
	"github.com/coderunner/execd/internal/telemetry"
)

// Optional carries the telemetry exporters that depend on external
// services the process may or may not be configured with. Any field left
// nil degrades that exporter to a no-op, per each exporter's own
// nil-receiver contract.
type Optional struct {
	Otel  *telemetry.OtelExporter
	Redis *telemetry.RedisGauge
	JSON  *telemetry.JSONArchive
	PG    *telemetry.PostgresArchive
}

// Service owns every live component for one execd process.
type Service struct {
	cfg      config.Config
	recorder *telemetry.Recorder
	queue    *admission.Queue
	pool     *sandbox.Pool
	sweeper  *sandbox.Sweeper
	mux      *iomux.Mux
	pipeline *pipeline.Pipeline
	gateway  *session.Gateway
	admin    *admin.Server
	gauges   *telemetry.PrometheusGauges
	logs     *adminlog.Ring
	drv      driver.Driver
	otel     *telemetry.OtelExporter

	gatewaySrv *http.Server
	adminSrv   *http.Server

	logger *slog.Logger
}

// New assembles a Service from a resolved Config, a sandbox runtime
// driver, a structured logger, and a log ring shared with the logger's
// handler chain. opt's fields may each be nil.
func New(cfg config.Config, drv driver.Driver, logger *slog.Logger, logs *adminlog.Ring, opt Optional) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	recorder := telemetry.New()
	if opt.JSON != nil {
		recorder.OnRollover(opt.JSON.Write)
	}
	if opt.PG != nil {
		recorder.OnRollover(func(m telemetry.DailyMetrics) {
			if err := opt.PG.UpsertDailyMetrics(context.Background(), m); err != nil {
				logger.Warn("failed to archive daily metrics to postgres", slog.String("error", err.Error()))
			}
		})
	}

	registry := languages.NewRegistry(cfg.LanguageImages)
	queue := admission.New(cfg.Queue.MaxConcurrent, cfg.Queue.SoftRateLimit, recorder)
	mux := iomux.New(cfg.Mux.OutputFrameBufferPerSession, recorder, logger)
	pool := sandbox.New(drv, registry, cfg.Pool, recorder, logger)
	sweeper := sandbox.NewSweeper(pool, cfg.Pool.SweepInterval)
	pl := pipeline.New(queue, pool, drv, mux, registry, recorder, cfg.Pipeline, opt.Otel, opt.Redis)
	gateway := session.NewGateway(mux, pl, recorder, logger)

	gauges := telemetry.NewPrometheusGauges(recorder, prometheus.DefaultRegisterer)
	adminServer := admin.New(recorder, gauges, logs, opt.JSON, opt.PG, logger)

	return &Service{
		cfg:      cfg,
		recorder: recorder,
		queue:    queue,
		pool:     pool,
		sweeper:  sweeper,
		mux:      mux,
		pipeline: pl,
		gateway:  gateway,
		admin:    adminServer,
		gauges:   gauges,
		logs:     logs,
		drv:      drv,
		otel:     opt.Otel,
		logger:   logger,
	}
}

// Recorder exposes the telemetry recorder, e.g. for OnRollover hooks a
// caller wants to register after construction.
func (s *Service) Recorder() *telemetry.Recorder { return s.recorder }

// Start launches the background sweeper and both HTTP servers, returning
// immediately; server errors are delivered on the returned channel.
func (s *Service) Start() <-chan error {
	go s.sweeper.Start()

	errCh := make(chan error, 2)

	s.gatewaySrv = &http.Server{Addr: s.cfg.ListenAddr, Handler: s.gateway}
	go func() {
		s.logger.Info("session gateway listening", slog.String("addr", s.cfg.ListenAddr))
		if err := s.gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.adminSrv = &http.Server{Addr: s.cfg.Admin.Addr, Handler: s.admin.Handler(s.cfg.Admin.AdministratorCredentialHash)}
	go func() {
		s.logger.Info("admin surface listening", slog.String("addr", s.cfg.Admin.Addr))
		if err := s.adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	return errCh
}

// Shutdown stops the sweeper and both HTTP servers, then closes the
// sandbox driver. It blocks for at most the context's deadline.
func (s *Service) Shutdown(ctx context.Context) {
	s.sweeper.Stop()

	if s.gatewaySrv != nil {
		if err := s.gatewaySrv.Shutdown(ctx); err != nil {
			s.logger.Warn("session gateway shutdown error", slog.String("error", err.Error()))
		}
	}
	if s.adminSrv != nil {
		if err := s.adminSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("admin surface shutdown error", slog.String("error", err.Error()))
		}
	}
	if s.drv != nil {
		if err := s.drv.Close(); err != nil {
			s.logger.Warn("driver close error", slog.String("error", err.Error()))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Warn("otel exporter shutdown error", slog.String("error", err.Error()))
		}
	}
}

// Command execd is the multi-tenant sandboxed code execution service:
// a WebSocket session gateway backed by per-language warm sandbox pools,
// plus a credential-gated HTTP administration surface.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coderunner/execd/internal/adminlog"
	"github.com/coderunner/execd/internal/config"
	"github.com/coderunner/execd/internal/driver"
	"github.com/coderunner/execd/internal/service"
	"github.com/coderunner/execd/internal/telemetry"
	libutils "github.com/coderunner/execd/lib/utils"
	"github.com/coderunner/execd/utils"
	"github.com/coderunner/execd/utils/logging"
	metricsgo "github.com/coderunner/execd/utils/metrics-go"
	pgutil "github.com/coderunner/execd/utils/postgres"
	redisutil "github.com/coderunner/execd/utils/redis"
)

const serviceName = "execd"

var (
	enablePostgresArchive = flag.Bool("enable-postgres-archive",
		utils.GetEnvBool("EXECD_ENABLE_POSTGRES_ARCHIVE", false),
		"persist daily rollups to postgres in addition to the JSON archive")
	enableRedisGauge = flag.Bool("enable-redis-gauge",
		utils.GetEnvBool("EXECD_ENABLE_REDIS_GAUGE", false),
		"publish completed-execution events to a redis stream (the active-session count is not published)")
	logRingCapacity = flag.Int("log-ring-capacity",
		utils.GetEnvInt("EXECD_LOG_RING_CAPACITY", 2000),
		"number of recent structured log entries retained for GET /logs")
	shutdownTimeout = flag.Duration("shutdown-timeout",
		30*time.Second,
		"graceful shutdown deadline")
)

func main() {
	cfgFlags := config.RegisterFlags()
	logFlags := logging.RegisterFlags()
	metricsFlags := metricsgo.RegisterMetricsFlags(serviceName)
	pgFlags := pgutil.RegisterFlags()
	redisFlags := redisutil.RegisterRedisFlags()
	flag.Parse()

	logRing := adminlog.NewRing(*logRingCapacity)
	logger := initLogger(logFlags.ToConfig(), logRing)

	version, err := libutils.LoadVersion()
	if err != nil {
		logger.Debug("no packaged version file found, running a dev build", slog.String("error", err.Error()))
	}
	logger.Info("execd starting", slog.String("version", version))

	cfg := cfgFlags.ToConfig()

	drv, err := driver.NewDockerDriver(logger)
	if err != nil {
		log.Fatalf("failed to initialize sandbox runtime driver: %v", err)
	}

	opt := service.Optional{}

	metricsConfig := metricsFlags.ToMetricsConfig()
	if metricsConfig.Enabled {
		if err := metricsgo.InitMetricCreator(metricsConfig); err != nil {
			logger.Warn("failed to initialize otel metrics, continuing without them", slog.String("error", err.Error()))
		} else {
			opt.Otel = telemetry.NewOtelExporter(metricsgo.GetMetricCreator(), logger)
		}
	}

	if *enableRedisGauge {
		redisClient, err := redisutil.NewRedisClient(context.Background(), redisFlags.ToRedisConfig(), logger)
		if err != nil {
			logger.Warn("failed to connect to redis, continuing without redis completion events", slog.String("error", err.Error()))
		} else {
			opt.Redis = telemetry.NewRedisGauge(redisClient, logger)
		}
	}

	if archive, err := telemetry.NewJSONArchive(cfg.Admin.ReportArchiveDir, logger); err != nil {
		logger.Warn("failed to initialize json report archive", slog.String("error", err.Error()))
	} else {
		opt.JSON = archive
	}

	if *enablePostgresArchive {
		pgClient, err := pgutil.NewClient(context.Background(), pgFlags.ToConfig(), logger)
		if err != nil {
			logger.Warn("failed to connect to postgres, continuing without the postgres archive", slog.String("error", err.Error()))
		} else {
			opt.PG = telemetry.NewPostgresArchive(pgClient, logger)
		}
	}

	svc := service.New(cfg, drv, logger, logRing, opt)

	errCh := svc.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server error, shutting down", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	svc.Shutdown(ctx)
	logger.Info("shutdown complete")
}

// initLogger builds the process logger with the ring-backed handler
// teed alongside the normal stdout/file writer, so GET /logs can serve
// recent entries without tailing the log file.
func initLogger(cfg logging.Config, ring *adminlog.Ring) *slog.Logger {
	base := logging.InitLogger(serviceName, cfg)
	handler := adminlog.NewHandler(base.Handler(), ring)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

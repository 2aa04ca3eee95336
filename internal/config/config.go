// Package config assembles execd's runtime configuration from
// command-line flags, with environment-variable defaults and an optional
// YAML file fallback, in the same RegisterXxxFlags/ToXxxConfig shape used
// throughout this codebase's other config-bearing packages.
package config

import (
	"flag"
	"time"

	"github.com/coderunner/execd/internal/languages"
	"github.com/coderunner/execd/utils"
)

// QueueConfig bounds the admission queue (C2).
type QueueConfig struct {
	MaxConcurrent int
	// SoftRateLimit, when > 0, caps admission grants per second on top of
	// the hard MaxConcurrent cap, smoothing bursty arrival without
	// reordering the FIFO.
	SoftRateLimit float64
}

// PoolConfig bounds the sandbox pool & dispatcher (C3).
type PoolConfig struct {
	MaxSandboxes       int
	PerLangWarmCap     int
	IdleTTL            time.Duration
	MaxAge             time.Duration
	SweepInterval      time.Duration
	SpawnTimeout       time.Duration
	ReleaseTimeout     time.Duration
	NetworkSubnetPool  string
}

// PipelineConfig bounds per-job execution (C4).
type PipelineConfig struct {
	DefaultDeadline time.Duration
	HardDeadline    time.Duration
	GraceMs         time.Duration
	MaxSourceBytes  int64
}

// MuxConfig bounds the I/O multiplexer (C5).
type MuxConfig struct {
	OutputFrameBufferPerSession int
}

// AdminConfig bounds the HTTP administration surface.
type AdminConfig struct {
	Addr                     string
	AdministratorCredentialHash string
	ReportArchiveDir         string
}

// Config is the assembled, immutable configuration for one execd process.
type Config struct {
	ListenAddr     string
	Queue          QueueConfig
	Pool           PoolConfig
	Pipeline       PipelineConfig
	Mux            MuxConfig
	Admin          AdminConfig
	LanguageImages map[languages.Tag]string
}

// FlagPointers holds pointers populated by flag.Parse(); ToConfig()
// dereferences them into an immutable Config.
type FlagPointers struct {
	listenAddr string

	maxConcurrent *int
	softRateLimit *float64

	maxSandboxes      *int
	perLangWarmCap    *int
	idleTTLSec        *int
	maxAgeSec         *int
	sweepIntervalSec  *int
	spawnTimeoutSec   *int
	releaseTimeoutSec *int
	networkSubnetPool *string

	defaultDeadlineMs *int
	hardDeadlineMs    *int
	graceMs           *int
	maxSourceBytes    *int64

	outputFrameBuffer *int

	adminAddr           *string
	adminCredentialHash *string
	reportArchiveDir    *string

	pythonImage *string
	jsImage     *string
	javaImage   *string
	cppImage    *string
}

// RegisterFlags registers every execd configuration flag, defaulted from
// the environment per §6's "Configuration (environment / file)" table;
// soft-admission-rate is the exception and defaults to 0 (disabled).
// Call flag.Parse() and then ToConfig() to obtain the immutable Config.
func RegisterFlags() *FlagPointers {
	f := &FlagPointers{}

	flag.StringVar(&f.listenAddr, "listen-addr",
		utils.GetEnv("EXECD_LISTEN_ADDR", ":8080"),
		"address the session gateway listens on")

	f.maxConcurrent = flag.Int("max-concurrent",
		utils.GetEnvInt("EXECD_MAX_CONCURRENT", 16),
		"hard cap on simultaneously running jobs")
	rateDefault := 0.0
	f.softRateLimit = flag.Float64("soft-admission-rate",
		rateDefault,
		"optional soft admission grants/sec limit on top of max-concurrent (0 disables)")

	f.maxSandboxes = flag.Int("max-sandboxes",
		utils.GetEnvInt("EXECD_MAX_SANDBOXES", 64),
		"hard cap on total sandboxes across all pools")
	f.perLangWarmCap = flag.Int("per-lang-warm-cap",
		utils.GetEnvInt("EXECD_PER_LANG_WARM_CAP", 8),
		"max idle sandboxes retained per language")
	f.idleTTLSec = flag.Int("idle-ttl-sec",
		utils.GetEnvInt("EXECD_IDLE_TTL_SEC", 300),
		"idle sandbox eviction threshold, in seconds")
	f.maxAgeSec = flag.Int("max-age-sec",
		utils.GetEnvInt("EXECD_MAX_AGE_SEC", 3600),
		"sandbox max-age eviction threshold, in seconds")
	f.sweepIntervalSec = flag.Int("sweep-interval-sec",
		utils.GetEnvInt("EXECD_SWEEP_INTERVAL_SEC", 30),
		"background eviction sweeper period, in seconds")
	f.spawnTimeoutSec = flag.Int("spawn-timeout-sec",
		utils.GetEnvInt("EXECD_SPAWN_TIMEOUT_SEC", 15),
		"sandbox spawn readiness timeout, in seconds")
	f.releaseTimeoutSec = flag.Int("release-timeout-sec",
		utils.GetEnvInt("EXECD_RELEASE_TIMEOUT_SEC", 5),
		"sandbox release/destroy timeout, in seconds")
	f.networkSubnetPool = flag.String("sandbox-network-subnet-pool",
		utils.GetEnv("EXECD_SANDBOX_NETWORK_SUBNET_POOL", "10.200.0.0/16"),
		"CIDR pool for per-sandbox networks")

	f.defaultDeadlineMs = flag.Int("default-deadline-ms",
		utils.GetEnvInt("EXECD_DEFAULT_DEADLINE_MS", 30000),
		"default wall-clock deadline per job, in milliseconds")
	f.hardDeadlineMs = flag.Int("hard-deadline-ms",
		utils.GetEnvInt("EXECD_HARD_DEADLINE_MS", 120000),
		"hard ceiling on a client-requested per-job deadline, in milliseconds")
	f.graceMs = flag.Int("grace-ms",
		utils.GetEnvInt("EXECD_GRACE_MS", 2000),
		"grace period between graceful stop and force kill, in milliseconds")
	maxSourceBytesDefault := int64(utils.GetEnvInt("EXECD_MAX_SOURCE_BYTES", 10*1024*1024))
	f.maxSourceBytes = flag.Int64("max-source-bytes", maxSourceBytesDefault,
		"aggregate source bytes cap per job")

	f.outputFrameBuffer = flag.Int("output-frame-buffer-per-session",
		utils.GetEnvInt("EXECD_OUTPUT_FRAME_BUFFER_PER_SESSION", 2000),
		"per-session outbound frame backpressure threshold")

	f.adminAddr = flag.String("admin-addr",
		utils.GetEnv("EXECD_ADMIN_ADDR", ":8081"),
		"address the admin HTTP surface listens on")
	f.adminCredentialHash = flag.String("administrator-credential-hash",
		utils.GetEnvOrConfig("EXECD_ADMIN_CREDENTIAL_HASH", "administratorCredentialHash", ""),
		"sha256 hex digest compared against the admin credential header")
	f.reportArchiveDir = flag.String("report-archive-dir",
		utils.GetEnv("EXECD_REPORT_ARCHIVE_DIR", "./reports"),
		"directory daily rollup reports are archived to")

	f.pythonImage = flag.String("sandbox-image-python", utils.GetEnv("EXECD_SANDBOX_IMAGE_PYTHON", ""), "sandbox image for python")
	f.jsImage = flag.String("sandbox-image-javascript", utils.GetEnv("EXECD_SANDBOX_IMAGE_JAVASCRIPT", ""), "sandbox image for javascript")
	f.javaImage = flag.String("sandbox-image-java", utils.GetEnv("EXECD_SANDBOX_IMAGE_JAVA", ""), "sandbox image for java")
	f.cppImage = flag.String("sandbox-image-cpp", utils.GetEnv("EXECD_SANDBOX_IMAGE_CPP", ""), "sandbox image for cpp")

	return f
}

// ToConfig converts flag pointers to an immutable Config. Must be called
// after flag.Parse().
func (f *FlagPointers) ToConfig() Config {
	return Config{
		ListenAddr: f.listenAddr,
		Queue: QueueConfig{
			MaxConcurrent: *f.maxConcurrent,
			SoftRateLimit: *f.softRateLimit,
		},
		Pool: PoolConfig{
			MaxSandboxes:      *f.maxSandboxes,
			PerLangWarmCap:    *f.perLangWarmCap,
			IdleTTL:           time.Duration(*f.idleTTLSec) * time.Second,
			MaxAge:            time.Duration(*f.maxAgeSec) * time.Second,
			SweepInterval:     time.Duration(*f.sweepIntervalSec) * time.Second,
			SpawnTimeout:      time.Duration(*f.spawnTimeoutSec) * time.Second,
			ReleaseTimeout:    time.Duration(*f.releaseTimeoutSec) * time.Second,
			NetworkSubnetPool: *f.networkSubnetPool,
		},
		Pipeline: PipelineConfig{
			DefaultDeadline: time.Duration(*f.defaultDeadlineMs) * time.Millisecond,
			HardDeadline:    time.Duration(*f.hardDeadlineMs) * time.Millisecond,
			GraceMs:         time.Duration(*f.graceMs) * time.Millisecond,
			MaxSourceBytes:  *f.maxSourceBytes,
		},
		Mux: MuxConfig{
			OutputFrameBufferPerSession: *f.outputFrameBuffer,
		},
		Admin: AdminConfig{
			Addr:                        *f.adminAddr,
			AdministratorCredentialHash: *f.adminCredentialHash,
			ReportArchiveDir:            *f.reportArchiveDir,
		},
		LanguageImages: map[languages.Tag]string{
			languages.Python:     *f.pythonImage,
			languages.JavaScript: *f.jsImage,
			languages.Java:       *f.javaImage,
			languages.Cpp:        *f.cppImage,
		},
	}
}

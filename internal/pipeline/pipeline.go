// Package pipeline implements the per-job execution state machine (C4):
// admission through cleanup, with stage-attributed timing handed to the
// telemetry recorder.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/coderunner/execd/internal/admission"
	"github.com/coderunner/execd/internal/config"
	"github.com/coderunner/execd/internal/driver"
	"github.com/coderunner/execd/internal/errs"
	"github.com/coderunner/execd/internal/iomux"
	"github.com/coderunner/execd/internal/languages"
	"github.com/coderunner/execd/internal/protocol"
	"github.com/coderunner/execd/internal/sandbox"
	"github.com/coderunner/execd/internal/telemetry"
)

// Stage is the job's position in its state machine.
type Stage string

const (
	StageQueued     Stage = "queued"
	StagePreparing  Stage = "preparing"
	StageRunning    Stage = "running"
	StageFinalizing Stage = "finalizing"
	StageDone       Stage = "done"
)

// Pipeline wires the admission queue, sandbox pool, driver, and I/O
// multiplexer together to run one job per call to Run.
type Pipeline struct {
	queue    *admission.Queue
	pool     *sandbox.Pool
	drv      driver.Driver
	mux      *iomux.Mux
	registry *languages.Registry
	recorder *telemetry.Recorder
	cfg      config.PipelineConfig

	otel  *telemetry.OtelExporter
	redis *telemetry.RedisGauge
}

// New builds a Pipeline. otel and redis are optional exporters; either
// may be nil.
func New(queue *admission.Queue, pool *sandbox.Pool, drv driver.Driver, mux *iomux.Mux,
	registry *languages.Registry, recorder *telemetry.Recorder, cfg config.PipelineConfig,
	otel *telemetry.OtelExporter, redis *telemetry.RedisGauge) *Pipeline {
	return &Pipeline{
		queue: queue, pool: pool, drv: drv, mux: mux,
		registry: registry, recorder: recorder, cfg: cfg,
		otel: otel, redis: redis,
	}
}

// deadline resolves the effective wall-clock deadline for a job: the
// client's request bounded above by the configured hard ceiling, or the
// server default when unset.
func (p *Pipeline) deadline(req protocol.RunRequest) time.Duration {
	if req.Limits.DeadlineMs <= 0 {
		return p.cfg.DefaultDeadline
	}
	d := time.Duration(req.Limits.DeadlineMs) * time.Millisecond
	if p.cfg.HardDeadline > 0 && d > p.cfg.HardDeadline {
		return p.cfg.HardDeadline
	}
	return d
}

// Run executes one job end to end, streaming output to sessionID via the
// multiplexer and always running Cleanup, even on failure or
// cancellation. The returned error, if any, is already reflected in the
// exit frame sent to the client; callers only need it for logging.
func (p *Pipeline) Run(ctx context.Context, sessionID string, req protocol.RunRequest) error {
	sd := telemetry.StageDurations{
		SessionID: sessionID,
		Language:  req.Language,
	}
	jobStart := time.Now()

	spec, ok := p.registry.Lookup(req.Language)
	if !ok {
		return p.reject(sessionID, errs.New(errs.UnknownLanguage, fmt.Sprintf("unsupported language %q", req.Language)))
	}
	files, entryPath, err := validateFiles(req.Files, p.cfg.MaxSourceBytes)
	if err != nil {
		return p.reject(sessionID, err)
	}
	for _, f := range files {
		ext := path.Ext(f.relPath)
		if !spec.HasExtension(ext) {
			return p.reject(sessionID, errs.New(errs.UnknownLanguage,
				fmt.Sprintf("extension %q not valid for %s", ext, spec.Tag)))
		}
	}

	// Stage 1: Queue.
	t0 := time.Now()
	ticket, err := p.queue.Admit(ctx)
	sd.Queue = time.Since(t0)
	if err != nil {
		return p.reject(sessionID, err)
	}
	defer p.queue.Release(ticket)
	defer p.recorder.JobFinished()

	// Stage 2: Network/Container acquire. Acquire's internal network
	// provisioning and container spawn aren't separately timed by the
	// pool, so the combined wait is attributed to Container.
	t0 = time.Now()
	lease, err := p.pool.Acquire(ctx, req.Language)
	sd.Container = time.Since(t0)
	sd.Reused = lease != nil && lease.Reused
	if err != nil {
		sd.Outcome = errKind(err).ExitReason()
		p.finishTelemetry("", sd, jobStart)
		return p.reject(sessionID, err)
	}
	handle := driver.Handle(lease.Sandbox.Handle)

	outcome := sandbox.Outcome{Healthy: true}
	defer func() {
		p.pool.Release(context.Background(), lease, outcome)
	}()

	if ctx.Err() != nil {
		// Cancelled during Preparing before any file transfer: release
		// healthy, nothing ran.
		sd.Outcome = errs.QueueCancelled.ExitReason()
		p.finishTelemetry(lease.Sandbox.ID, sd, jobStart)
		return p.reject(sessionID, errs.Wrap(errs.QueueCancelled, "cancelled before execution", ctx.Err()))
	}

	// Stage 3: File transfer.
	t0 = time.Now()
	err = materializeFiles(ctx, p.drv, handle, files)
	sd.FileTransfer = time.Since(t0)
	if err != nil {
		outcome.Healthy = false
		sd.Outcome = errKind(err).ExitReason()
		p.finishTelemetry(lease.Sandbox.ID, sd, jobStart)
		return p.reject(sessionID, err)
	}

	command, err := buildCommand(spec, entryPath)
	if err != nil {
		outcome.Healthy = false
		sd.Outcome = errKind(err).ExitReason()
		p.finishTelemetry(lease.Sandbox.ID, sd, jobStart)
		return p.reject(sessionID, err)
	}

	// Stage 4/5/6: Execution + Streaming + Collect.
	deadline := p.deadline(req)
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	t0 = time.Now()
	result, err := p.drv.Exec(execCtx, handle, command, nil, workRoot)
	if err != nil {
		cancel()
		sd.Execution = time.Since(t0)
		outcome.Healthy = false
		sd.Outcome = errs.SandboxUnavailable.ExitReason()
		p.finishTelemetry(lease.Sandbox.ID, sd, jobStart)
		return p.reject(sessionID, errs.Wrap(errs.SandboxUnavailable, "failed to start execution", err))
	}

	stdinCh := p.mux.OpenInput(sessionID)
	stdinDone := make(chan struct{})
	go forwardStdin(result.Stdin, stdinCh, stdinDone)

	var tunnels sync.WaitGroup
	tunnels.Add(2)
	go func() { defer tunnels.Done(); iomux.Tunnel(p.mux, sessionID, protocol.FrameStdout, result.Stdout, t0) }()
	go func() { defer tunnels.Done(); iomux.Tunnel(p.mux, sessionID, protocol.FrameStderr, result.Stderr, t0) }()

	code, waitErr := result.Wait(execCtx)
	sd.Execution = time.Since(t0)
	p.mux.CloseInput(sessionID)
	<-stdinDone

	var kind errs.Kind
	switch {
	case waitErr != nil && execCtx.Err() != nil && ctx.Err() == nil:
		// Deadline breached, not an outer cancellation.
		p.terminate(handle, result)
		kind = errs.DeadlineExceeded
		outcome.Healthy = false
	case waitErr != nil && ctx.Err() != nil:
		p.terminate(handle, result)
		kind = errs.Killed
		outcome.Healthy = true
	case waitErr != nil:
		kind = errs.Crashed
		outcome.Healthy = false
	case code != 0:
		kind = errs.Crashed
		outcome.Healthy = true
	default:
		kind = errs.OK
		outcome.Healthy = true
	}

	// Both output streams are drained before the exit frame, so exit is
	// the job's last frame.
	tunnels.Wait()

	// Stage 7: Cleanup.
	t0 = time.Now()
	sd.Cleanup = time.Since(t0)
	sd.Outcome = kind.ExitReason()
	p.finishTelemetry(lease.Sandbox.ID, sd, jobStart)
	p.mux.SendExit(sessionID, code, kind.ExitReason())

	if kind != errs.OK {
		return errs.New(kind, "job did not complete successfully")
	}
	return nil
}

// buildCommand resolves a language spec's compile+run command templates
// against the resolved entrypoint. For a language with a compile step it
// returns one shell command that compiles and then runs, so a failed
// compile surfaces as a crash of the single Exec rather than as a
// separate pipeline stage.
func buildCommand(spec languages.Spec, entryPath string) ([]string, error) {
	className := strings.TrimSuffix(path.Base(entryPath), path.Ext(entryPath))
	substitute := func(args []string) []string {
		out := make([]string, len(args))
		for i, a := range args {
			a = strings.ReplaceAll(a, "{entry}", entryPath)
			a = strings.ReplaceAll(a, "{class}", className)
			out[i] = a
		}
		return out
	}

	if len(spec.CompileCommand) == 0 {
		return substitute(spec.RunCommand), nil
	}

	// Compiled languages run under a shell so the compile step's exit
	// code gates the run step within a single Exec call.
	compile := strings.Join(substitute(spec.CompileCommand), " ")
	run := strings.Join(substitute(spec.RunCommand), " ")
	return []string{"sh", "-c", compile + " && " + run}, nil
}

func forwardStdin(w io.WriteCloser, in <-chan []byte, done chan<- struct{}) {
	defer close(done)
	defer w.Close()
	for data := range in {
		if _, err := w.Write(data); err != nil {
			return
		}
	}
}

// terminate requests a graceful stop, waits up to the configured grace
// period for the process to exit on its own, then force-kills it. Used on
// both the deadline-breach and cancel-during-run paths; the caller's Wait
// on execCtx has already returned, so the grace window is timed against a
// fresh context here rather than the now-expired one.
func (p *Pipeline) terminate(handle driver.Handle, result *driver.ExecResult) {
	_ = p.drv.Kill(context.Background(), handle, "SIGTERM")

	grace := p.cfg.GraceMs
	if grace <= 0 {
		_ = p.drv.Kill(context.Background(), handle, "SIGKILL")
		return
	}

	graceCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if _, err := result.Wait(graceCtx); err == nil {
		return
	}
	_ = p.drv.Kill(context.Background(), handle, "SIGKILL")
}

// reject reports a failed job to the client. Kinds that arise after
// admission end the job with an exit frame carrying the kind's reason;
// every other kind is sent as a rejected frame.
func (p *Pipeline) reject(sessionID string, err error) error {
	kind, ok := errs.As(err)
	if !ok {
		kind = errs.SandboxUnavailable
	}
	switch kind {
	case errs.QueueCancelled, errs.SandboxUnavailable, errs.FileTransferFailed:
		p.mux.SendExit(sessionID, -1, kind.ExitReason())
	default:
		p.mux.SendRejected(sessionID, string(kind), err.Error())
	}
	return err
}

func (p *Pipeline) finishTelemetry(sandboxID string, sd telemetry.StageDurations, jobStart time.Time) {
	sd.Total = time.Since(jobStart)
	sd.FinishedAt = time.Now()
	if sd.Outcome == "" {
		sd.Outcome = "ok"
	}
	p.recorder.RecordJob(sandboxID, sd)
	if p.otel != nil {
		p.otel.RecordJob(sd)
	}
	if p.redis != nil {
		p.redis.PublishCompletion(context.Background(), sd)
	}
}

func errKind(err error) errs.Kind {
	if k, ok := errs.As(err); ok {
		return k
	}
	return errs.SandboxUnavailable
}

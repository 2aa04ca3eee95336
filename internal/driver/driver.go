// Package driver defines the sandbox runtime driver contract: the
// boundary between the orchestrator core and whatever container engine
// actually runs submitted code. The core treats every call as fallible
// and potentially slow and never holds a pool lock across one.
package driver

import (
	"context"
	"io"
)

// SpawnOpts parameterizes a new sandbox.
type SpawnOpts struct {
	Image     string
	NetworkID string
	MemMB     int
	CPUShare  int
}

// Handle identifies a live sandbox to the driver. The orchestrator treats
// it as opaque.
type Handle string

// ExecResult exposes the three standard streams of a running process plus
// a Waiter that blocks until it exits.
type ExecResult struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
	Wait   func(ctx context.Context) (exitCode int, err error)
}

// Driver is the sandbox runtime contract consumed by the sandbox pool and
// execution pipeline. No specific container product is assumed; Docker is
// one concrete implementation (see docker.go).
type Driver interface {
	// Spawn creates a sandbox and blocks until its readiness probe
	// succeeds or ctx is done.
	Spawn(ctx context.Context, opts SpawnOpts) (Handle, error)
	// Copy writes bytes to path inside the sandbox, creating parent
	// directories as needed.
	Copy(ctx context.Context, h Handle, path string, bytes []byte) error
	// Exec launches command with env set, returning live stream handles.
	Exec(ctx context.Context, h Handle, command []string, env map[string]string, workdir string) (*ExecResult, error)
	// Kill sends signal to the sandbox's running process, if any.
	Kill(ctx context.Context, h Handle, signal string) error
	// Destroy tears the sandbox down. Idempotent.
	Destroy(ctx context.Context, h Handle) error
	// ResetWorkdir clears a sandbox's working directory so it can be
	// reused by a future job without leaking files between tenants.
	ResetWorkdir(ctx context.Context, h Handle) error
	// NetworkCreate provisions a dedicated network segment for one
	// sandbox, returning its id.
	NetworkCreate(ctx context.Context) (string, error)
	// NetworkDestroy tears a network segment down. Idempotent.
	NetworkDestroy(ctx context.Context, networkID string) error
	// Ping verifies the driver's backing runtime is reachable.
	Ping(ctx context.Context) error
	// Close releases any resources held by the driver.
	Close() error
}

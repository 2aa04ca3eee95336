//go:build integration

package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDockerDriverAgainstRealEngine exercises DockerDriver's full
// spawn/copy/exec/destroy lifecycle against a real Docker daemon. It is
// gated behind the integration build tag since it requires a reachable
// Docker socket and pulls a real image.
func TestDockerDriverAgainstRealEngine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Boot a throwaway container via testcontainers-go purely to confirm
	// the host's Docker daemon is reachable before trusting DockerDriver's
	// own client against it.
	probe, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "python:3.12-slim",
			Cmd:        []string{"sleep", "infinity"},
			WaitingFor: wait.ForExec([]string{"true"}),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() { _ = probe.Terminate(ctx) }()

	drv, err := NewDockerDriver(nil)
	require.NoError(t, err)
	defer drv.Close()

	require.NoError(t, drv.Ping(ctx))

	networkID, err := drv.NetworkCreate(ctx)
	require.NoError(t, err)
	defer drv.NetworkDestroy(ctx, networkID)

	handle, err := drv.Spawn(ctx, SpawnOpts{
		Image:     "python:3.12-slim",
		NetworkID: networkID,
		MemMB:     256,
		CPUShare:  1000,
	})
	require.NoError(t, err)
	defer drv.Destroy(ctx, handle)

	require.NoError(t, drv.Copy(ctx, handle, "/sandbox/main.py", []byte("print('hello from sandbox')\n")))

	res, err := drv.Exec(ctx, handle, []string{"python3", "/sandbox/main.py"}, nil, "/sandbox")
	require.NoError(t, err)

	exitCode, err := res.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, exitCode)

	require.NoError(t, drv.ResetWorkdir(ctx, handle))
	require.NoError(t, drv.Destroy(ctx, handle))
	// Destroy is idempotent.
	require.NoError(t, drv.Destroy(ctx, handle))
}

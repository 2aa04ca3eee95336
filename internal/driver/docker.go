package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"

	"github.com/coderunner/execd/utils"
)

// DockerDriver implements Driver against the Docker Engine API. It is the
// reference runtime this orchestrator ships with; the pool and pipeline
// code never import it directly, only the Driver interface.
type DockerDriver struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewDockerDriver builds a DockerDriver from the environment (DOCKER_HOST,
// DOCKER_CERT_PATH, etc., via client.FromEnv).
func NewDockerDriver(logger *slog.Logger) (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerDriver{cli: cli, logger: logger}, nil
}

func (d *DockerDriver) Spawn(ctx context.Context, opts SpawnOpts) (Handle, error) {
	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(opts.NetworkID),
		Resources: container.Resources{
			Memory:   int64(opts.MemMB) * 1024 * 1024,
			CPUQuota: int64(opts.CPUShare) * 1000,
		},
	}

	created, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:        opts.Image,
		Cmd:          []string{"sleep", "infinity"},
		Tty:          false,
		OpenStdin:    true,
	}, hostConfig, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container from image %s: %w", opts.Image, err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", created.ID, err)
	}

	if err := d.waitReady(ctx, created.ID); err != nil {
		_ = d.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("readiness probe failed for container %s: %w", created.ID, err)
	}

	return Handle(created.ID), nil
}

// waitReady polls ContainerInspect until the container reports Running,
// backing off between attempts with utils.CalculateBackoff capped at 2s.
func (d *DockerDriver) waitReady(ctx context.Context, id string) error {
	for attempt := 0; ; attempt++ {
		info, err := d.cli.ContainerInspect(ctx, id)
		if err == nil && info.State != nil && info.State.Running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(utils.CalculateBackoff(attempt+1, 2*time.Second)):
		}
	}
}

func (d *DockerDriver) Copy(ctx context.Context, h Handle, path string, data []byte) error {
	tarball, err := tarOf(path, data)
	if err != nil {
		return fmt.Errorf("failed to build tar payload for %s: %w", path, err)
	}
	if err := d.cli.CopyToContainer(ctx, string(h), "/", tarball, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to copy %s into container %s: %w", path, h, err)
	}
	return nil
}

func tarOf(path string, data []byte) (io.Reader, error) {
	return archive.Generate(strings.TrimPrefix(path, "/"), string(data))
}

func (d *DockerDriver) Exec(ctx context.Context, h Handle, command []string, env map[string]string, workdir string) (*ExecResult, error) {
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	execCreated, err := d.cli.ContainerExecCreate(ctx, string(h), container.ExecOptions{
		Cmd:          command,
		Env:          envList,
		WorkingDir:   workdir,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec in container %s: %w", h, err)
	}

	attached, err := d.cli.ContainerExecAttach(ctx, execCreated.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec in container %s: %w", h, err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	go demuxDockerStream(attached.Reader, stdoutW, stderrW)

	wait := func(waitCtx context.Context) (int, error) {
		for {
			inspected, err := d.cli.ContainerExecInspect(waitCtx, execCreated.ID)
			if err != nil {
				return -1, fmt.Errorf("failed to inspect exec %s: %w", execCreated.ID, err)
			}
			if !inspected.Running {
				return inspected.ExitCode, nil
			}
			select {
			case <-waitCtx.Done():
				return -1, waitCtx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

	return &ExecResult{
		Stdin:  attached.Conn,
		Stdout: stdoutR,
		Stderr: stderrR,
		Wait:   wait,
	}, nil
}

// demuxDockerStream splits Docker's multiplexed exec-attach stream into
// separate stdout/stderr writers per the 8-byte frame-header protocol.
func demuxDockerStream(r io.Reader, stdout, stderr io.WriteCloser) {
	defer stdout.Close()
	defer stderr.Close()

	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		switch header[0] {
		case 2:
			stderr.Write(buf)
		default:
			stdout.Write(buf)
		}
	}
}

func (d *DockerDriver) Kill(ctx context.Context, h Handle, signal string) error {
	if signal == "" {
		signal = "SIGKILL"
	}
	if err := d.cli.ContainerKill(ctx, string(h), signal); err != nil {
		return fmt.Errorf("failed to signal container %s with %s: %w", h, signal, err)
	}
	return nil
}

func (d *DockerDriver) Destroy(ctx context.Context, h Handle) error {
	if err := d.cli.ContainerRemove(ctx, string(h), container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", h, err)
	}
	return nil
}

func (d *DockerDriver) ResetWorkdir(ctx context.Context, h Handle) error {
	res, err := d.Exec(ctx, h, []string{"sh", "-c", "rm -rf /workspace/* && mkdir -p /workspace"}, nil, "/")
	if err != nil {
		return fmt.Errorf("failed to reset workdir in container %s: %w", h, err)
	}
	code, err := res.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for workdir reset in container %s: %w", h, err)
	}
	if code != 0 {
		return fmt.Errorf("workdir reset in container %s exited %d", h, code)
	}
	return nil
}

func (d *DockerDriver) NetworkCreate(ctx context.Context) (string, error) {
	created, err := d.cli.NetworkCreate(ctx, fmt.Sprintf("execd-net-%d", time.Now().UnixNano()), network.CreateOptions{
		Driver:     "bridge",
		Internal:   true,
		Attachable: false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create sandbox network: %w", err)
	}
	return created.ID, nil
}

func (d *DockerDriver) NetworkDestroy(ctx context.Context, networkID string) error {
	if err := d.cli.NetworkRemove(ctx, networkID); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove network %s: %w", networkID, err)
	}
	return nil
}

func (d *DockerDriver) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker daemon ping failed: %w", err)
	}
	return nil
}

func (d *DockerDriver) Close() error {
	return d.cli.Close()
}

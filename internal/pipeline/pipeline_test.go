package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coderunner/execd/internal/admission"
	"github.com/coderunner/execd/internal/config"
	"github.com/coderunner/execd/internal/driver"
	"github.com/coderunner/execd/internal/iomux"
	"github.com/coderunner/execd/internal/languages"
	"github.com/coderunner/execd/internal/protocol"
	"github.com/coderunner/execd/internal/sandbox"
	"github.com/coderunner/execd/internal/telemetry"
)

func newTestPipeline(t *testing.T, program driver.Program) (*Pipeline, *driver.FakeDriver, *iomux.Mux) {
	t.Helper()
	fd := driver.NewFakeDriver()
	fd.DefaultProgram = program
	registry := languages.NewRegistry(nil)
	recorder := telemetry.New()
	pool := sandbox.New(fd, registry, config.PoolConfig{
		MaxSandboxes:   4,
		PerLangWarmCap: 2,
		IdleTTL:        time.Minute,
		MaxAge:         time.Hour,
		SpawnTimeout:   time.Second,
		ReleaseTimeout: time.Second,
	}, recorder, nil)
	queue := admission.New(4, 0, recorder)
	mux := iomux.New(100, recorder, nil)
	pl := New(queue, pool, fd, mux, registry, recorder, config.PipelineConfig{
		DefaultDeadline: time.Second,
		HardDeadline:    5 * time.Second,
		GraceMs:         100 * time.Millisecond,
		MaxSourceBytes:  1 << 20,
	}, nil, nil)
	return pl, fd, mux
}

func runRequest() protocol.RunRequest {
	return protocol.RunRequest{
		Language: "python",
		Files: []protocol.File{
			{Path: "main.py", Content: "print('hi')", Entry: true},
		},
	}
}

func TestRunSuccessfulJobEmitsOutputAndExit(t *testing.T) {
	pl, _, mux := newTestPipeline(t, driver.Program{Stdout: "hi\n", ExitCode: 0})
	sessionID := "s1"
	ch := mux.RegisterSession(sessionID)

	err := pl.Run(context.Background(), sessionID, runRequest())
	require.NoError(t, err)

	var sawExit, sawStdout bool
	timeout := time.After(2 * time.Second)
	for !sawExit {
		select {
		case raw := <-ch:
			var head struct{ Type string }
			require.NoError(t, json.Unmarshal(raw, &head))
			if head.Type == protocol.FrameStdout {
				sawStdout = true
			}
			if head.Type == protocol.FrameExit {
				sawExit = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for exit frame")
		}
	}
	require.True(t, sawStdout, "expected a stdout frame")
}

func TestRunRejectsUnknownLanguage(t *testing.T) {
	pl, _, mux := newTestPipeline(t, driver.Program{})
	sessionID := "s1"
	ch := mux.RegisterSession(sessionID)

	req := runRequest()
	req.Language = "cobol"
	err := pl.Run(context.Background(), sessionID, req)
	require.Error(t, err)

	raw := <-ch
	var f protocol.RejectedFrame
	require.NoError(t, json.Unmarshal(raw, &f))
	require.Equal(t, protocol.FrameRejected, f.Type)
}

func TestRunRejectsMissingEntrypoint(t *testing.T) {
	pl, _, mux := newTestPipeline(t, driver.Program{})
	sessionID := "s1"
	ch := mux.RegisterSession(sessionID)

	req := runRequest()
	req.Files[0].Entry = false
	err := pl.Run(context.Background(), sessionID, req)
	require.Error(t, err)
	<-ch // rejected frame
}

func TestRunReleaseSandboxHealthyOnSuccess(t *testing.T) {
	pl, _, mux := newTestPipeline(t, driver.Program{ExitCode: 0})
	sessionID := "s1"
	mux.RegisterSession(sessionID)

	require.NoError(t, pl.Run(context.Background(), sessionID, runRequest()))
	total, active, idle := pl.pool.Counts()
	require.Equal(t, 1, total)
	require.Equal(t, 0, active)
	require.Equal(t, 1, idle)
}

func TestRunInteractiveStdinEcho(t *testing.T) {
	pl, _, mux := newTestPipeline(t, driver.Program{Echo: true})
	sessionID := "s1"
	ch := mux.RegisterSession(sessionID)

	done := make(chan error, 1)
	go func() { done <- pl.Run(context.Background(), sessionID, runRequest()) }()

	require.Eventually(t, func() bool {
		return mux.Stdin(sessionID, []byte("ping"))
	}, time.Second, 5*time.Millisecond)

	var sawEcho bool
	timeout := time.After(2 * time.Second)
	for !sawEcho {
		select {
		case raw := <-ch:
			var f protocol.OutputFrame
			require.NoError(t, json.Unmarshal(raw, &f))
			if f.Type == protocol.FrameStdout && f.Data == "ping" {
				sawEcho = true
			}
		case <-timeout:
			t.Fatal("did not observe echoed stdin")
		}
	}
}

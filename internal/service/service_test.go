package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coderunner/execd/internal/adminlog"
	"github.com/coderunner/execd/internal/config"
	"github.com/coderunner/execd/internal/driver"
	"github.com/coderunner/execd/internal/languages"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr: "127.0.0.1:0",
		Queue:      config.QueueConfig{MaxConcurrent: 4},
		Pool: config.PoolConfig{
			MaxSandboxes:   4,
			PerLangWarmCap: 2,
			IdleTTL:        time.Minute,
			MaxAge:         time.Hour,
			SweepInterval:  time.Hour,
			SpawnTimeout:   time.Second,
			ReleaseTimeout: time.Second,
		},
		Pipeline: config.PipelineConfig{
			DefaultDeadline: time.Second,
			HardDeadline:    5 * time.Second,
			MaxSourceBytes:  1 << 20,
		},
		Mux:   config.MuxConfig{OutputFrameBufferPerSession: 100},
		Admin: config.AdminConfig{Addr: "127.0.0.1:0", AdministratorCredentialHash: "unused"},
		LanguageImages: map[languages.Tag]string{
			languages.Python: "",
		},
	}
}

func TestServiceStartAndShutdown(t *testing.T) {
	svc := New(testConfig(), driver.NewFakeDriver(), nil, adminlog.NewRing(10), Optional{})
	require.NotNil(t, svc.Recorder())

	errCh := svc.Start()
	select {
	case err := <-errCh:
		t.Fatalf("unexpected server error: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc.Shutdown(ctx)
}

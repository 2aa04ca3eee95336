package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coderunner/execd/internal/config"
	"github.com/coderunner/execd/internal/driver"
	"github.com/coderunner/execd/internal/languages"
	"github.com/coderunner/execd/internal/telemetry"
)

func testPool(t *testing.T, cfg config.PoolConfig) (*Pool, *driver.FakeDriver) {
	t.Helper()
	fd := driver.NewFakeDriver()
	registry := languages.NewRegistry(nil)
	recorder := telemetry.New()
	return New(fd, registry, cfg, recorder, nil), fd
}

func defaultPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MaxSandboxes:   4,
		PerLangWarmCap: 2,
		IdleTTL:        time.Minute,
		MaxAge:         time.Hour,
		SpawnTimeout:   time.Second,
		ReleaseTimeout: time.Second,
	}
}

func TestAcquireSpawnsWhenPoolEmpty(t *testing.T) {
	pool, _ := testPool(t, defaultPoolConfig())

	lease, err := pool.Acquire(context.Background(), "python")
	require.NoError(t, err)
	require.False(t, lease.Reused)
	require.Equal(t, StateLeased, lease.Sandbox.State)
}

func TestAcquireRejectsUnknownLanguage(t *testing.T) {
	pool, _ := testPool(t, defaultPoolConfig())

	_, err := pool.Acquire(context.Background(), "cobol")
	require.Error(t, err)
}

func TestReleaseHealthyReturnsSandboxToIdlePoolAndAcquireReusesIt(t *testing.T) {
	pool, fd := testPool(t, defaultPoolConfig())
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "python")
	require.NoError(t, err)
	firstID := lease.Sandbox.ID

	pool.Release(ctx, lease, Outcome{Healthy: true})
	require.Equal(t, StateIdle, lease.Sandbox.State)
	require.False(t, fd.IsDestroyed(driver.Handle(lease.Sandbox.Handle)))

	reused, err := pool.Acquire(ctx, "python")
	require.NoError(t, err)
	require.True(t, reused.Reused)
	require.Equal(t, firstID, reused.Sandbox.ID)
}

func TestReleaseUnhealthyDestroysSandbox(t *testing.T) {
	pool, fd := testPool(t, defaultPoolConfig())
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "python")
	require.NoError(t, err)
	handle := driver.Handle(lease.Sandbox.Handle)

	pool.Release(ctx, lease, Outcome{Healthy: false})

	require.Eventually(t, func() bool {
		return fd.IsDestroyed(handle)
	}, time.Second, 5*time.Millisecond)
}

func TestAcquireEvictsGlobalIdleSandboxAtCapacity(t *testing.T) {
	cfg := defaultPoolConfig()
	cfg.MaxSandboxes = 1
	pool, fd := testPool(t, cfg)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "python")
	require.NoError(t, err)
	firstHandle := driver.Handle(lease.Sandbox.Handle)
	pool.Release(ctx, lease, Outcome{Healthy: true})

	second, err := pool.Acquire(ctx, "javascript")
	require.NoError(t, err)
	require.False(t, second.Reused)
	require.True(t, fd.IsDestroyed(firstHandle))
}

func TestSweeperEvictsIdleSandboxPastTTL(t *testing.T) {
	cfg := defaultPoolConfig()
	cfg.IdleTTL = time.Millisecond
	pool, fd := testPool(t, cfg)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "python")
	require.NoError(t, err)
	handle := driver.Handle(lease.Sandbox.Handle)
	pool.Release(ctx, lease, Outcome{Healthy: true})

	time.Sleep(5 * time.Millisecond)
	sweeper := NewSweeper(pool, time.Hour)
	sweeper.sweepOnce()

	require.True(t, fd.IsDestroyed(handle))
}

func TestCountsReflectAcquireAndRelease(t *testing.T) {
	pool, _ := testPool(t, defaultPoolConfig())
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "python")
	require.NoError(t, err)
	total, active, idle := pool.Counts()
	require.Equal(t, 1, total)
	require.Equal(t, 1, active)
	require.Equal(t, 0, idle)

	pool.Release(ctx, lease, Outcome{Healthy: true})
	total, active, idle = pool.Counts()
	require.Equal(t, 1, total)
	require.Equal(t, 0, active)
	require.Equal(t, 1, idle)
}

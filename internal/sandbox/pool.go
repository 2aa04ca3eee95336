package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coderunner/execd/internal/config"
	"github.com/coderunner/execd/internal/driver"
	"github.com/coderunner/execd/internal/errs"
	"github.com/coderunner/execd/internal/languages"
	"github.com/coderunner/execd/internal/telemetry"
	"github.com/coderunner/execd/utils/cache"
)

// langPool is one language's idle set plus its currently leased
// sandboxes. idle is keyed by sandbox id; KeyedCache.Keys() lists it
// oldest-to-newest. idle carries no TTL of its own: the sweeper is the
// only path that evicts (and destroys) an idle sandbox by age.
type langPool struct {
	mu     sync.Mutex
	idle   *cache.KeyedCache[*Sandbox]
	leased map[string]*Sandbox
}

// Pool owns one langPool per supported language plus the global
// sandbox-count accounting that spans all of them.
type Pool struct {
	driver   driver.Driver
	registry *languages.Registry
	cfg      config.PoolConfig
	recorder *telemetry.Recorder
	logger   *slog.Logger

	globalMu sync.Mutex // guards total and cross-language eviction decisions
	total    int

	pools map[languages.Tag]*langPool
}

// New builds a Pool with one empty langPool per tag in the registry.
func New(drv driver.Driver, registry *languages.Registry, cfg config.PoolConfig, recorder *telemetry.Recorder, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	pools := make(map[languages.Tag]*langPool, len(registry.Tags()))
	for _, tag := range registry.Tags() {
		pools[tag] = &langPool{
			idle:   cache.NewKeyedCache[*Sandbox](cfg.PerLangWarmCap*4, 0),
			leased: make(map[string]*Sandbox),
		}
	}
	return &Pool{
		driver:   drv,
		registry: registry,
		cfg:      cfg,
		recorder: recorder,
		logger:   logger,
		pools:    pools,
	}
}

// Acquire implements the §4.3 policy: reuse the MRU idle sandbox of the
// requested language if one exists, otherwise spawn a fresh one, evicting
// the global-LRU idle sandbox first if that would push the pool over
// maxSandboxes.
func (p *Pool) Acquire(ctx context.Context, tag string) (*Lease, error) {
	spec, ok := p.registry.Lookup(tag)
	if !ok {
		return nil, errs.New(errs.UnknownLanguage, fmt.Sprintf("unsupported language %q", tag))
	}
	lp := p.pools[spec.Tag]

	if sb, ok := p.popMRU(lp); ok {
		sb.State = StateLeased
		sb.LeaseID = uuid.New().String()
		sb.ReuseCount++
		sb.LastUsedAt = time.Now()
		lp.mu.Lock()
		lp.leased[sb.ID] = sb
		lp.mu.Unlock()
		if p.recorder != nil {
			p.recorder.SandboxLeased()
		}
		return &Lease{ID: sb.LeaseID, Sandbox: sb, Reused: true}, nil
	}

	if err := p.makeRoomForSpawn(ctx); err != nil {
		return nil, err
	}

	sb, err := p.spawn(ctx, spec)
	if err != nil {
		return nil, err
	}
	sb.State = StateLeased
	sb.LeaseID = uuid.New().String()
	lp.mu.Lock()
	lp.leased[sb.ID] = sb
	lp.mu.Unlock()
	if p.recorder != nil {
		p.recorder.SandboxLeased()
	}
	return &Lease{ID: sb.LeaseID, Sandbox: sb, Reused: false}, nil
}

// popMRU removes and returns the most-recently-used idle sandbox for a
// pool, if any. KeyedCache.Keys() orders oldest-to-newest, so the MRU
// entry is the last key.
func (p *Pool) popMRU(lp *langPool) (*Sandbox, bool) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	keys := lp.idle.Keys()
	if len(keys) == 0 {
		return nil, false
	}
	key := keys[len(keys)-1]
	sb, ok := lp.idle.Get(key)
	if !ok {
		return nil, false
	}
	lp.idle.Remove(key)
	return sb, true
}

// makeRoomForSpawn reserves one unit of global sandbox capacity for the
// spawn the caller is about to perform, evicting the global-LRU idle
// sandbox first if the pool is already at maxSandboxes. The reservation
// (p.total++) happens under the same globalMu critical section as the
// capacity check, so two concurrent Acquire calls can never both observe
// room and both proceed to spawn: the second sees the first's reservation
// and either evicts or fails, before either has made the slow
// driver.Spawn call. Callers must release the reservation with
// releaseReservation if the spawn they reserved it for does not succeed.
func (p *Pool) makeRoomForSpawn(ctx context.Context) error {
	p.globalMu.Lock()
	if p.cfg.MaxSandboxes <= 0 || p.total < p.cfg.MaxSandboxes {
		p.total++
		p.globalMu.Unlock()
		return nil
	}
	p.globalMu.Unlock()

	tag, id, sb, found := p.oldestIdleAcrossPools()
	if !found {
		return errs.New(errs.SandboxUnavailable, "pool at capacity with no idle sandbox to evict")
	}
	lp := p.pools[tag]
	lp.mu.Lock()
	lp.idle.Remove(id)
	lp.mu.Unlock()
	p.destroy(ctx, sb)

	p.globalMu.Lock()
	p.total++
	p.globalMu.Unlock()
	return nil
}

// releaseReservation rolls back the capacity reservation made by
// makeRoomForSpawn when the spawn it was reserved for did not succeed.
func (p *Pool) releaseReservation() {
	p.globalMu.Lock()
	p.total--
	p.globalMu.Unlock()
}

// oldestIdleAcrossPools finds the globally least-recently-used idle
// sandbox by comparing LastUsedAt across every language's idle set.
func (p *Pool) oldestIdleAcrossPools() (languages.Tag, string, *Sandbox, bool) {
	var (
		bestTag languages.Tag
		bestID  string
		best    *Sandbox
	)
	for tag, lp := range p.pools {
		lp.mu.Lock()
		keys := lp.idle.Keys()
		if len(keys) > 0 {
			if sb, ok := lp.idle.Get(keys[0]); ok {
				if best == nil || sb.LastUsedAt.Before(best.LastUsedAt) {
					best, bestTag, bestID = sb, tag, keys[0]
				}
			}
		}
		lp.mu.Unlock()
	}
	return bestTag, bestID, best, best != nil
}

// spawn provisions a sandbox's dedicated network, starts the container,
// waits for readiness, and registers it in the spawning language's pool
// bookkeeping. It does not place the sandbox in the idle set: callers
// either immediately lease it (Acquire) or idle it (Release never calls
// spawn; only Acquire does). The caller must already hold a capacity
// reservation from makeRoomForSpawn; spawn releases it on any failure
// path and leaves it in place on success, since it now accounts for the
// sandbox spawn left standing.
func (p *Pool) spawn(ctx context.Context, spec languages.Spec) (*Sandbox, error) {
	spawnCtx, cancel := context.WithTimeout(ctx, p.cfg.SpawnTimeout)
	defer cancel()

	netID, err := p.driver.NetworkCreate(spawnCtx)
	if err != nil {
		p.releaseReservation()
		return nil, errs.Wrap(errs.SandboxUnavailable, "failed to create sandbox network", err)
	}

	handle, err := p.driver.Spawn(spawnCtx, driver.SpawnOpts{
		Image:     spec.Image,
		NetworkID: netID,
	})
	if err != nil {
		_ = p.driver.NetworkDestroy(context.Background(), netID)
		p.releaseReservation()
		if p.recorder != nil {
			p.recorder.SandboxDestroyed()
		}
		return nil, errs.Wrap(errs.SandboxUnavailable, "failed to spawn sandbox", err)
	}

	now := time.Now()
	sb := &Sandbox{
		ID:         uuid.New().String(),
		Language:   spec.Tag,
		Handle:     string(handle),
		NetworkID:  netID,
		State:      StateSpawning,
		CreatedAt:  now,
		LastUsedAt: now,
	}

	if p.recorder != nil {
		p.recorder.SandboxSpawned()
	}
	return sb, nil
}

// Release implements §4.3's Release policy. A healthy sandbox is reset
// and returned to the front (MRU) of its pool; an unhealthy one drains
// and is destroyed asynchronously, bounded by releaseTimeout.
func (p *Pool) Release(ctx context.Context, lease *Lease, outcome Outcome) {
	sb := lease.Sandbox
	lp := p.pools[sb.Language]

	lp.mu.Lock()
	delete(lp.leased, sb.ID)
	lp.mu.Unlock()

	if !outcome.Healthy {
		sb.State = StateDraining
		go func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), p.cfg.ReleaseTimeout)
			defer cancel()
			p.destroy(releaseCtx, sb)
		}()
		return
	}

	resetCtx, cancel := context.WithTimeout(ctx, p.cfg.ReleaseTimeout)
	defer cancel()
	if err := p.driver.ResetWorkdir(resetCtx, driver.Handle(sb.Handle)); err != nil {
		p.logger.Warn("failed to reset sandbox workdir, draining instead",
			slog.String("sandboxId", sb.ID), slog.String("error", err.Error()))
		sb.State = StateDraining
		go p.destroy(context.Background(), sb)
		return
	}

	sb.State = StateIdle
	sb.LeaseID = ""
	sb.LastUsedAt = time.Now()
	lp.mu.Lock()
	lp.idle.Set(sb.ID, sb)
	lp.mu.Unlock()
	if p.recorder != nil {
		p.recorder.SandboxIdled()
	}
}

// destroy tears a sandbox's network and container down and marks it
// Gone. Idempotent on the driver side; safe to call from the sweeper, a
// failed Release, or makeRoomForSpawn.
func (p *Pool) destroy(ctx context.Context, sb *Sandbox) {
	if err := p.driver.Destroy(ctx, driver.Handle(sb.Handle)); err != nil {
		p.logger.Warn("failed to destroy sandbox", slog.String("sandboxId", sb.ID), slog.String("error", err.Error()))
	}
	if err := p.driver.NetworkDestroy(ctx, sb.NetworkID); err != nil {
		p.logger.Warn("failed to destroy sandbox network", slog.String("sandboxId", sb.ID), slog.String("error", err.Error()))
	}
	sb.State = StateGone

	p.globalMu.Lock()
	p.total--
	p.globalMu.Unlock()
	if p.recorder != nil {
		p.recorder.SandboxDestroyed()
	}
}

// Counts returns (total, active/leased, idle) across every language, for
// the admin snapshot.
func (p *Pool) Counts() (total, active, idle int) {
	p.globalMu.Lock()
	total = p.total
	p.globalMu.Unlock()
	for _, lp := range p.pools {
		lp.mu.Lock()
		active += len(lp.leased)
		idle += lp.idle.Size()
		lp.mu.Unlock()
	}
	return total, active, idle
}

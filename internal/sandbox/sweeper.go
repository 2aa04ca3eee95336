package sandbox

import (
	"context"
	"time"
)

// Sweeper periodically evicts idle sandboxes per §4.3's background
// sweeper policy: idle past idleTTL, aged past maxAge even if idle, or
// simply in excess of perLangWarmCap.
type Sweeper struct {
	pool     *Pool
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper builds a Sweeper for pool, run at the configured interval.
func NewSweeper(pool *Pool, interval time.Duration) *Sweeper {
	return &Sweeper{
		pool:     pool,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called. Intended to be run in
// its own goroutine.
func (s *Sweeper) Start() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stop:
			return
		}
	}
}

// Stop signals the sweep loop to exit and blocks until it has.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) sweepOnce() {
	ctx := context.Background()
	now := time.Now()
	p := s.pool

	for _, lp := range p.pools {
		lp.mu.Lock()
		keys := lp.idle.Keys() // oldest to newest
		var toEvict []string
		overflow := len(keys) - p.cfg.PerLangWarmCap
		for i, key := range keys {
			sb, ok := lp.idle.Get(key)
			if !ok {
				continue
			}
			expired := p.cfg.IdleTTL > 0 && now.Sub(sb.LastUsedAt) > p.cfg.IdleTTL
			aged := p.cfg.MaxAge > 0 && now.Sub(sb.CreatedAt) > p.cfg.MaxAge
			// Overflow eviction takes the oldest entries first, which are
			// also the first elements of this oldest-to-newest slice.
			inOverflow := overflow > 0 && i < overflow
			if expired || aged || inOverflow {
				toEvict = append(toEvict, key)
			}
		}
		var victims []*Sandbox
		for _, key := range toEvict {
			if sb, ok := lp.idle.Get(key); ok {
				lp.idle.Remove(key)
				sb.State = StateDraining
				victims = append(victims, sb)
			}
		}
		lp.mu.Unlock()

		for _, sb := range victims {
			p.destroy(ctx, sb)
		}
	}
}

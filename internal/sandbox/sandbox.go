// Package sandbox implements the per-language warm sandbox pools and
// dispatcher (C3): lease acquisition, release, background eviction, and
// the aggregate accounting the admin surface exposes.
package sandbox

import (
	"time"

	"github.com/coderunner/execd/internal/languages"
)

// State is a sandbox's position in its lifecycle. A sandbox is either in
// a pool's idle set (no lease) or leased out (exactly one lease), never
// both; Spawning and Draining are the transient states either side of
// that invariant.
type State string

const (
	StateSpawning State = "spawning"
	StateIdle     State = "idle"
	StateLeased   State = "leased"
	StateDraining State = "draining"
	StateGone     State = "gone"
)

// Sandbox is one reusable execution container tracked by the pool.
type Sandbox struct {
	ID         string
	Language   languages.Tag
	Handle     string // driver.Handle, opaque outside this package
	NetworkID  string
	State      State
	CreatedAt  time.Time
	LastUsedAt time.Time
	ReuseCount int
	LeaseID    string // non-empty iff State == StateLeased
}

// Lease is the handle Acquire returns: an exclusive claim on one sandbox
// for the duration of a single execution.
type Lease struct {
	ID      string
	Sandbox *Sandbox
	Reused  bool
}

// Outcome classifies how a leased sandbox behaved, deciding whether
// Release returns it to the idle pool or drains it.
type Outcome struct {
	Healthy bool
}

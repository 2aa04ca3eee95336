// Package session implements the session gateway (C1): the WebSocket
// upgrade point, per-connection envelope dispatch, and the live-session
// registry that lets an inbound "cancel" verb reach a running job.
package session

import (
	"context"
	"sync"
)

// entry tracks one session's currently running job, if any. A session can
// have at most one job in flight; a "run" verb received while one is
// already running is rejected rather than queued server-side.
type entry struct {
	cancel context.CancelFunc
}

// Registry maps session ids to their in-flight job cancel function.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry builds an empty session registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Open registers sessionID with no job running yet.
func (r *Registry) Open(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sessionID] = &entry{}
}

// Close removes sessionID, cancelling any job still in flight so the
// pipeline unwinds promptly rather than outliving the connection.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()
	if ok && e.cancel != nil {
		e.cancel()
	}
}

// StartJob records cancel as the way to abort sessionID's current job and
// reports whether a job was already running for it.
func (r *Registry) StartJob(sessionID string, cancel context.CancelFunc) (alreadyRunning bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		e = &entry{}
		r.entries[sessionID] = e
	}
	if e.cancel != nil {
		return true
	}
	e.cancel = cancel
	return false
}

// FinishJob clears sessionID's recorded cancel function once its job has
// returned, so a future run isn't mistaken for one still in flight.
func (r *Registry) FinishJob(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sessionID]; ok {
		e.cancel = nil
	}
}

// Cancel aborts sessionID's current job, if any. Reports whether a job was
// actually running.
func (r *Registry) Cancel(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	e.cancel = nil
	return true
}

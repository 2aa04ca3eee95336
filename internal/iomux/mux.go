// Package iomux implements the process-wide I/O multiplexer (C5): the
// session-id-keyed outbound frame router and per-job input sink table
// described in the execution pipeline's streaming stage.
package iomux

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coderunner/execd/internal/protocol"
	"github.com/coderunner/execd/internal/telemetry"
)

// droppable reports whether a frame kind may be discarded under
// backpressure. Only stdout/stderr output is droppable; system notices
// and the terminal exit frame are always delivered.
func droppable(kind string) bool {
	return kind == protocol.FrameStdout || kind == protocol.FrameStderr
}

// sessionOutbound is one session's bounded outbound buffer plus the
// drop-oldest backpressure bookkeeping for it.
type sessionOutbound struct {
	mu              sync.Mutex
	ch              chan []byte
	droppedPending  int64
	lastNoticeAt    time.Time
	noticeThreshold time.Duration
}

func newSessionOutbound(capacity int) *sessionOutbound {
	return &sessionOutbound{
		ch:              make(chan []byte, capacity),
		noticeThreshold: time.Second,
	}
}

// push enqueues data, forcing room by discarding the oldest buffered
// frame if the channel is full. When the ≥1s throttle window has elapsed
// since the last drop notice, it also makes room for and enqueues a
// drop-notice frame in the same critical section, so the extra eviction
// that requires is itself counted: the returned total always equals the
// number of frames actually evicted by this call, and a notice's
// reported count always equals the droppedPending it just flushed.
func (s *sessionOutbound) push(kind string, data []byte) (totalDropped int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- data:
		return 0
	default:
	}

	// Full: make room. A droppable frame simply yields its own slot by
	// dropping the oldest entry instead of itself, keeping strict
	// per-session receipt order for everything that does get through.
	select {
	case <-s.ch:
		s.droppedPending++
		totalDropped++
	default:
	}
	select {
	case s.ch <- data:
	default:
		// Lost the race against a concurrent drain; fall through without
		// blocking rather than stall the caller.
	}

	if s.droppedPending == 0 || time.Since(s.lastNoticeAt) < s.noticeThreshold {
		return totalDropped
	}

	// A notice is due. Reserve its slot in the same critical section as
	// the data eviction above, so the channel never goes from "just
	// refilled" to "forced open again" outside this lock: any further
	// eviction needed to fit the notice is folded into droppedPending
	// before it is reported, not left unaccounted for.
	select {
	case <-s.ch:
		s.droppedPending++
		totalDropped++
	default:
	}

	reported := s.droppedPending
	n := protocol.NewOutputFrame(protocol.FrameSystem, []byte(noticeText(reported)), 0)
	b, err := json.Marshal(n)
	if err != nil {
		return totalDropped
	}
	select {
	case s.ch <- b:
		s.droppedPending = 0
		s.lastNoticeAt = time.Now()
	default:
		// Lost the race against a concurrent drain; leave droppedPending
		// intact so the next push's notice still reports it.
	}
	return totalDropped
}

func noticeText(n int64) string {
	return fmt.Sprintf("output truncated: %d frames dropped", n)
}

// Mux is the process-wide router. One Mux instance is shared by the
// session gateway (C1) and the execution pipeline (C4).
type Mux struct {
	mu            sync.RWMutex
	outbound      map[string]*sessionOutbound
	inputSinks    map[string]chan []byte
	bufferPerSess int
	recorder      *telemetry.Recorder
	logger        *slog.Logger
}

// New builds a Mux whose per-session outbound buffers hold
// bufferPerSession frames before the backpressure policy engages.
func New(bufferPerSession int, recorder *telemetry.Recorder, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{
		outbound:      make(map[string]*sessionOutbound),
		inputSinks:    make(map[string]chan []byte),
		bufferPerSess: bufferPerSession,
		recorder:      recorder,
		logger:        logger,
	}
}

// RegisterSession opens sessionID's outbound sink, established by C1
// when a session connects. The returned channel is read-only from the
// gateway's perspective; UnregisterSession closes it.
func (m *Mux) RegisterSession(sessionID string) <-chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := newSessionOutbound(m.bufferPerSess)
	m.outbound[sessionID] = out
	return out.ch
}

// UnregisterSession tears a session's outbound sink down.
func (m *Mux) UnregisterSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if out, ok := m.outbound[sessionID]; ok {
		close(out.ch)
		delete(m.outbound, sessionID)
	}
}

// SendOutput marshals and routes one output/system/exit frame to
// sessionID's outbound sink, applying the backpressure policy for
// droppable kinds. Exit frames must be the last call for a session's job.
func (m *Mux) SendOutput(sessionID, kind string, data []byte, tsMs int64) {
	m.mu.RLock()
	out, ok := m.outbound[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	frame := protocol.NewOutputFrame(kind, data, tsMs)
	b, err := json.Marshal(frame)
	if err != nil {
		m.logger.Warn("failed to marshal output frame", slog.String("error", err.Error()))
		return
	}

	if !droppable(kind) {
		out.forceDeliver(b)
		return
	}

	dropped := out.push(kind, b)
	if dropped > 0 && m.recorder != nil {
		m.recorder.FramesDropped(dropped)
	}
}

// SendRejected marshals and force-delivers a pre-admission rejection,
// sent instead of ever starting a job.
func (m *Mux) SendRejected(sessionID, kind, message string) {
	m.mu.RLock()
	out, ok := m.outbound[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	b, err := json.Marshal(protocol.NewRejectedFrame(kind, message))
	if err != nil {
		m.logger.Warn("failed to marshal rejected frame", slog.String("error", err.Error()))
		return
	}
	out.forceDeliver(b)
}

// SendExit marshals and force-delivers a job's terminal exit frame.
func (m *Mux) SendExit(sessionID string, code int, reason string) {
	m.mu.RLock()
	out, ok := m.outbound[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	b, err := json.Marshal(protocol.NewExitFrame(code, reason))
	if err != nil {
		m.logger.Warn("failed to marshal exit frame", slog.String("error", err.Error()))
		return
	}
	out.forceDeliver(b)
}

// SendSystem marshals and force-delivers a bare system-channel warning
// frame, used for conditions like a stdin frame arriving with no job
// running or a target program that has already closed its stdin.
func (m *Mux) SendSystem(sessionID, message string) {
	m.mu.RLock()
	out, ok := m.outbound[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	b, err := json.Marshal(protocol.NewOutputFrame(protocol.FrameSystem, []byte(message), 0))
	if err != nil {
		m.logger.Warn("failed to marshal system frame", slog.String("error", err.Error()))
		return
	}
	out.forceDeliver(b)
}

// forceDeliver pushes data, discarding the oldest buffered frame if full,
// used for frame kinds that must never be dropped themselves.
func (s *sessionOutbound) forceDeliver(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- data:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- data:
	default:
	}
}

// OpenInput establishes sessionID's running-job input sink, done by C4
// at the start of execution and torn down at cleanup.
func (m *Mux) OpenInput(sessionID string) <-chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan []byte, 32)
	m.inputSinks[sessionID] = ch
	return ch
}

// CloseInput tears sessionID's input sink down.
func (m *Mux) CloseInput(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.inputSinks[sessionID]; ok {
		close(ch)
		delete(m.inputSinks, sessionID)
	}
}

// Stdin appends one inbound Stdin frame's payload to sessionID's running
// job, in arrival order. ok=false if no job is currently executing for
// that session (the frame should be acknowledged with a "stdin closed"
// system notice by the caller).
func (m *Mux) Stdin(sessionID string, data []byte) bool {
	m.mu.RLock()
	ch, ok := m.inputSinks[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case ch <- data:
		return true
	default:
		// Input frames are never dropped; block briefly rather than
		// silently discard a client's input.
		ch <- data
		return true
	}
}

// HasSession reports whether sessionID currently has a registered
// outbound sink.
func (m *Mux) HasSession(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.outbound[sessionID]
	return ok
}

// Package adminlog backs the GET /logs admin route with a bounded
// in-memory ring of recently emitted structured log entries, fed by a
// slog.Handler that tees alongside the process's normal log writer.
package adminlog

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log record, shaped for JSON admin output.
type Entry struct {
	Time     time.Time         `json:"time"`
	Level    string            `json:"level"`
	Source   string            `json:"source"`
	Category string            `json:"category"`
	Session  string            `json:"session,omitempty"`
	Message  string            `json:"message"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// Ring is a fixed-capacity, thread-safe circular buffer of the most
// recently recorded log entries.
type Ring struct {
	mu       sync.Mutex
	entries  []Entry
	next     int
	size     int
	capacity int
}

// NewRing builds a Ring holding at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ring{entries: make([]Entry, capacity), capacity: capacity}
}

func (r *Ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Filter is the GET /logs query: every non-empty field narrows the result.
type Filter struct {
	Level    string
	Category string
	Search   string
	Limit    int
}

// Query returns matching entries, newest first, bounded by f.Limit (0
// means no limit beyond the ring's own capacity).
func (r *Ring) Query(f Filter) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	wantLevel := strings.ToUpper(strings.TrimSpace(f.Level))
	wantCategory := strings.TrimSpace(f.Category)
	wantSearch := strings.ToLower(strings.TrimSpace(f.Search))

	var out []Entry
	for i := 0; i < r.size; i++ {
		idx := (r.next - 1 - i + r.capacity*2) % r.capacity
		e := r.entries[idx]
		if wantLevel != "" && e.Level != wantLevel {
			continue
		}
		if wantCategory != "" && e.Category != wantCategory {
			continue
		}
		if wantSearch != "" && !strings.Contains(strings.ToLower(e.Message), wantSearch) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Handler is a slog.Handler that records every handled record into a Ring
// in addition to delegating formatting/writing to an inner handler, so the
// admin surface can serve recent entries without tailing the log file.
type Handler struct {
	inner slog.Handler
	ring  *Ring
	attrs []slog.Attr
	group string
}

// NewHandler wraps inner, capturing every record it handles into ring.
func NewHandler(inner slog.Handler, ring *Ring) *Handler {
	return &Handler{inner: inner, ring: ring}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{
		Time:     r.Time,
		Level:    r.Level.String(),
		Source:   callerSource(r.PC),
		Category: h.group,
		Message:  r.Message,
	}
	attrs := make(map[string]string)
	for _, a := range h.attrs {
		collectInto(attrs, &e, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collectInto(attrs, &e, a)
		return true
	})
	if len(attrs) > 0 {
		e.Attrs = attrs
	}
	h.ring.add(e)
	return h.inner.Handle(ctx, r)
}

func collectInto(attrs map[string]string, e *Entry, a slog.Attr) {
	if a.Key == "session" && e.Session == "" {
		e.Session = a.Value.String()
		return
	}
	attrs[a.Key] = a.Value.String()
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		inner: h.inner.WithAttrs(attrs),
		ring:  h.ring,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
		group: h.group,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" && name != "" {
		group = h.group + "." + name
	} else if h.group != "" {
		group = h.group
	}
	return &Handler{
		inner: h.inner.WithGroup(name),
		ring:  h.ring,
		attrs: h.attrs,
		group: group,
	}
}

func callerSource(pc uintptr) string {
	if pc == 0 {
		return "unknown"
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	if f.Function == "" {
		return "unknown"
	}
	parts := strings.Split(f.Function, "/")
	last := parts[len(parts)-1]
	if idx := strings.Index(last, "."); idx >= 0 {
		return last[:idx]
	}
	return last
}

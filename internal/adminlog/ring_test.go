package adminlog

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLogger(ring *Ring) *slog.Logger {
	base := slog.NewTextHandler(&bytes.Buffer{}, nil)
	return slog.New(NewHandler(base, ring))
}

func TestRingCapturesRecentEntries(t *testing.T) {
	ring := NewRing(10)
	logger := newTestLogger(ring)

	logger.Info("sandbox spawned", "session", "abc123")
	logger.Warn("slow exec", "language", "python")

	entries := ring.Query(Filter{})
	require.Len(t, entries, 2)
	require.Equal(t, "slow exec", entries[0].Message)
	require.Equal(t, "WARN", entries[0].Level)
	require.Equal(t, "python", entries[0].Attrs["language"])
	require.Equal(t, "abc123", entries[1].Session)
}

func TestRingFiltersByLevelCategorySearch(t *testing.T) {
	ring := NewRing(10)
	logger := newTestLogger(ring).WithGroup("pool")

	logger.Info("spawned sandbox")
	logger.Error("spawn failed")

	errs := ring.Query(Filter{Level: "error"})
	require.Len(t, errs, 1)
	require.Equal(t, "spawn failed", errs[0].Message)

	byCategory := ring.Query(Filter{Category: "pool"})
	require.Len(t, byCategory, 2)

	bySearch := ring.Query(Filter{Search: "failed"})
	require.Len(t, bySearch, 1)
}

func TestRingEnforcesCapacityWraparound(t *testing.T) {
	ring := NewRing(3)
	logger := newTestLogger(ring)

	for i := 0; i < 5; i++ {
		logger.Info("tick")
	}
	entries := ring.Query(Filter{})
	require.Len(t, entries, 3)
}

func TestRingQueryRespectsLimit(t *testing.T) {
	ring := NewRing(10)
	logger := newTestLogger(ring)
	for i := 0; i < 5; i++ {
		logger.Info("tick")
	}
	require.Len(t, ring.Query(Filter{Limit: 2}), 2)
}

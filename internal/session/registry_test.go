package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartJobRejectsConcurrentSecondJob(t *testing.T) {
	r := NewRegistry()
	r.Open("s1")

	_, cancel1 := context.WithCancel(context.Background())
	already := r.StartJob("s1", cancel1)
	require.False(t, already)

	_, cancel2 := context.WithCancel(context.Background())
	already = r.StartJob("s1", cancel2)
	require.True(t, already)
}

func TestFinishJobAllowsNextRun(t *testing.T) {
	r := NewRegistry()
	r.Open("s1")

	_, cancel := context.WithCancel(context.Background())
	require.False(t, r.StartJob("s1", cancel))

	r.FinishJob("s1")

	_, cancel2 := context.WithCancel(context.Background())
	require.False(t, r.StartJob("s1", cancel2))
}

func TestCancelInvokesStoredCancelFunc(t *testing.T) {
	r := NewRegistry()
	r.Open("s1")

	ctx, cancel := context.WithCancel(context.Background())
	r.StartJob("s1", cancel)

	ok := r.Cancel("s1")
	require.True(t, ok)
	require.Error(t, ctx.Err())

	// A second cancel on the same session has nothing to cancel.
	require.False(t, r.Cancel("s1"))
}

func TestCancelUnknownSessionReturnsFalse(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.Cancel("ghost"))
}

func TestCloseCancelsInFlightJob(t *testing.T) {
	r := NewRegistry()
	r.Open("s1")

	ctx, cancel := context.WithCancel(context.Background())
	r.StartJob("s1", cancel)

	r.Close("s1")
	require.Error(t, ctx.Err())

	// The session no longer exists; a further StartJob re-opens it
	// implicitly rather than panicking.
	_, cancel2 := context.WithCancel(context.Background())
	require.False(t, r.StartJob("s1", cancel2))
}

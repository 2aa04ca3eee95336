package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitReasonMapping(t *testing.T) {
	cases := map[Kind]string{
		QueueCancelled:     "cancelled",
		Killed:             "cancelled",
		SandboxUnavailable: "unavailable",
		FileTransferFailed: "io",
		DeadlineExceeded:   "timeout",
		Crashed:            "crash",
		OK:                 "ok",
		UnknownLanguage:    string(UnknownLanguage),
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.ExitReason(), "kind=%s", kind)
	}
}

func TestNewFaultErrorFormat(t *testing.T) {
	f := New(TooLarge, "source exceeds limit")
	require.Contains(t, f.Error(), "too-large")
	require.Contains(t, f.Error(), "source exceeds limit")
	require.Nil(t, f.Unwrap())
}

func TestWrapFaultPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	f := Wrap(SandboxUnavailable, "spawn failed", cause)
	require.ErrorIs(t, f, cause)
	require.Contains(t, f.Error(), "connection refused")
}

func TestAsExtractsKindThroughWrapping(t *testing.T) {
	f := New(Busy, "already running")
	wrapped := errors.New("outer") // not itself wrapping f, sanity negative case
	_, ok := As(wrapped)
	require.False(t, ok)

	kind, ok := As(f)
	require.True(t, ok)
	require.Equal(t, Busy, kind)

	doubleWrapped := &wrapper{err: f}
	kind, ok = As(doubleWrapped)
	require.True(t, ok)
	require.Equal(t, Busy, kind)
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

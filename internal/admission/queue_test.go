package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coderunner/execd/internal/errs"
	"github.com/coderunner/execd/internal/telemetry"
)

func TestAdmitGrantsImmediatelyUnderCapacity(t *testing.T) {
	q := New(2, 0, telemetry.New())
	ctx := context.Background()

	t1, err := q.Admit(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, q.Active())

	t2, err := q.Admit(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, q.Active())

	q.Release(t1)
	q.Release(t2)
	require.Equal(t, 0, q.Active())
}

func TestAdmitQueuesPastCapacityAndServesFIFO(t *testing.T) {
	q := New(1, 0, telemetry.New())
	ctx := context.Background()

	t1, err := q.Admit(ctx)
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, err := q.Admit(ctx)
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			q.Release(tk)
		}(i)
		time.Sleep(5 * time.Millisecond) // stagger arrival order
	}

	q.Release(t1)
	wg.Wait()

	require.Equal(t, []int{0, 1, 2}, order)
	require.Equal(t, 0, q.Active())
	require.Equal(t, 0, q.Queued())
}

func TestAdmitZeroCapacityRejectsImmediately(t *testing.T) {
	q := New(0, 0, telemetry.New())
	_, err := q.Admit(context.Background())
	require.Error(t, err)
	kind, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.ServiceUnavailable, kind)
}

func TestAdmitCancelWhileQueuedRemovesWaiterAndWakesNext(t *testing.T) {
	q := New(1, 0, telemetry.New())
	t1, err := q.Admit(context.Background())
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		_, err := q.Admit(cancelCtx)
		waiterDone <- err
	}()
	time.Sleep(10 * time.Millisecond) // let the waiter park

	cancel()
	select {
	case err := <-waiterDone:
		require.Error(t, err)
		kind, ok := errs.As(err)
		require.True(t, ok)
		require.Equal(t, errs.QueueCancelled, kind)
	case <-time.After(time.Second):
		t.Fatal("cancelled Admit never returned")
	}
	require.Equal(t, 0, q.Queued())

	nextDone := make(chan *Ticket, 1)
	go func() {
		tk, err := q.Admit(context.Background())
		require.NoError(t, err)
		nextDone <- tk
	}()
	time.Sleep(10 * time.Millisecond) // let the next waiter park

	q.Release(t1)
	select {
	case t3 := <-nextDone:
		require.NotNil(t, t3)
		q.Release(t3)
	case <-time.After(time.Second):
		t.Fatal("next waiter was never woken")
	}
}

func TestAdmitRaceBetweenGrantAndCancelDoesNotLeakSlot(t *testing.T) {
	q := New(1, 0, telemetry.New())
	t1, err := q.Admit(context.Background())
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan struct{})
	go func() {
		if tk, err := q.Admit(cancelCtx); err == nil {
			q.Release(tk)
		}
		close(waiterDone)
	}()
	time.Sleep(10 * time.Millisecond)

	// Release and cancel concurrently: whichever wins, the slot must not
	// leak and a subsequent Admit must still succeed.
	go q.Release(t1)
	go cancel()
	<-waiterDone

	tk, err := q.Admit(context.Background())
	require.NoError(t, err)
	q.Release(tk)
}

// Package admission implements the single FIFO admission queue (C2) that
// bounds simultaneously running jobs and orders waiters by arrival time.
package admission

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/coderunner/execd/internal/errs"
	"github.com/coderunner/execd/internal/telemetry"
)

// Ticket is the handle returned by Admit. Release must be called exactly
// once, regardless of whether the job succeeded, failed, or was
// cancelled, to free the slot for the next FIFO waiter.
type Ticket struct {
	id uint64
}

// waiter is one parked Admit call, woken in arrival order. The
// cancellation handle for a queued ticket is simply the ctx passed into
// Admit: cancelling it (session disconnect, explicit Cancel verb) removes
// the waiter in O(1) without a separate cancel API.
type waiter struct {
	grant  chan *Ticket
	elem   *list.Element
}

// Queue is the process-wide admission gate. active <= maxConcurrent at
// all times; waiters are served strictly FIFO.
type Queue struct {
	mu            sync.Mutex
	maxConcurrent int
	active        int
	waiters       *list.List // of *waiter, live ones only
	nextID        uint64
	limiter       *rate.Limiter
	recorder      *telemetry.Recorder
}

// New builds a Queue. maxConcurrent=0 means every Admit call is rejected
// immediately with ServiceUnavailable; this is a valid, non-deadlocking
// configuration per the boundary behavior in the spec's testable
// properties. softRateLimit, when > 0, softens bursts by delaying grant
// issuance without violating FIFO order or the hard cap.
func New(maxConcurrent int, softRateLimit float64, recorder *telemetry.Recorder) *Queue {
	var limiter *rate.Limiter
	if softRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(softRateLimit), 1)
	}
	return &Queue{
		maxConcurrent: maxConcurrent,
		waiters:       list.New(),
		limiter:       limiter,
		recorder:      recorder,
	}
}

// Admit blocks until a slot is available or ctx is done. On success it
// returns a Ticket that the caller must eventually Release exactly once.
// Cancelling ctx while queued removes the waiter in O(1) and wakes the
// next one instead; this is how a session disconnect or an explicit
// Cancel verb propagates into the admission queue.
func (q *Queue) Admit(ctx context.Context) (*Ticket, error) {
	if q.maxConcurrent <= 0 {
		return nil, errs.New(errs.ServiceUnavailable, "admission disabled: maxConcurrent=0")
	}

	q.mu.Lock()
	if q.active < q.maxConcurrent {
		q.active++
		q.mu.Unlock()
		if q.limiter != nil {
			_ = q.limiter.Wait(ctx)
		}
		if q.recorder != nil {
			q.recorder.AdmissionGranted(false)
		}
		return q.newTicketLocked(), nil
	}

	w := &waiter{grant: make(chan *Ticket, 1)}
	w.elem = q.waiters.PushBack(w)
	if q.recorder != nil {
		q.recorder.AdmissionEnqueued()
	}
	q.mu.Unlock()

	select {
	case t := <-w.grant:
		if q.limiter != nil {
			_ = q.limiter.Wait(ctx)
		}
		if q.recorder != nil {
			q.recorder.AdmissionGranted(true)
		}
		return t, nil
	case <-ctx.Done():
		q.mu.Lock()
		q.waiters.Remove(w.elem)
		q.mu.Unlock()
		// A grant may have raced the ctx cancellation and already landed
		// in the buffered channel; if so it never gets consumed and that
		// slot would leak, so drain and release it back to the queue.
		select {
		case t := <-w.grant:
			q.Release(t)
		default:
		}
		return nil, errs.Wrap(errs.QueueCancelled, "admission cancelled while queued", ctx.Err())
	}
}

func (q *Queue) newTicketLocked() *Ticket {
	q.nextID++
	return &Ticket{id: q.nextID}
}

// Release frees the slot held by t, waking the next FIFO waiter if any.
func (q *Queue) Release(t *Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.waiters.Front()
	if front == nil {
		q.active--
		return
	}
	q.waiters.Remove(front)
	w := front.Value.(*waiter)
	w.grant <- q.newTicketLocked()
}

// Active returns the current count of admitted (running) jobs.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Queued returns the current count of parked waiters.
func (q *Queue) Queued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters.Len()
}

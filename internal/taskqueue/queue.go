package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"medscribe/internal/services"
	"medscribe/internal/stage"
)

// ErrClosed is returned by Dequeue after Close.
var ErrClosed = errors.New("task queue closed")

// Request is one stage execution for one job.
type Request struct {
	DeliveryID string
	JobID      string
	Stage      stage.Name
	InputRef   string
	Attempt    int
}

type requestKey struct {
	jobID string
	stage stage.Name
}

func keyOf(req Request) requestKey {
	return requestKey{jobID: req.JobID, stage: req.Stage}
}

type pending struct {
	req       Request
	notBefore time.Time
}

type lease struct {
	req      Request
	deadline time.Time
}

// Queue is an in-memory, lease-based stage request queue.
type Queue struct {
	mu       sync.Mutex
	capacity int
	pending  []pending
	inflight map[string]lease
	keys     map[requestKey]string
	closed   bool
	changed  chan struct{}
	now      func() time.Time
}

// NewQueue constructs a queue holding at most capacity pending plus in-flight
// requests. A capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		inflight: make(map[string]lease),
		keys:     make(map[requestKey]string),
		changed:  make(chan struct{}),
		now:      time.Now,
	}
}

// Enqueue admits a request for a new job. A request for a (job, stage) pair
// that is already pending or in flight is accepted without adding a duplicate.
// Admission fails once the queue holds capacity requests.
func (q *Queue) Enqueue(ctx context.Context, req Request) error {
	return q.enqueue(ctx, req, true)
}

// Continue queues the next stage of a job that was already admitted. It is
// idempotent like Enqueue but ignores the capacity bound, so work in progress
// is never displaced by newer submissions.
func (q *Queue) Continue(ctx context.Context, req Request) error {
	return q.enqueue(ctx, req, false)
}

func (q *Queue) enqueue(ctx context.Context, req Request, bounded bool) error {
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrEnqueue, string(req.Stage), "enqueue", "Context done", err)
	}
	if req.JobID == "" || req.Stage == "" {
		return services.Wrap(services.ErrEnqueue, string(req.Stage), "enqueue", "Request requires job id and stage", nil)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return services.Wrap(services.ErrEnqueue, string(req.Stage), "enqueue", "Queue is closed", nil)
	}
	if _, exists := q.keys[keyOf(req)]; exists {
		return nil
	}
	if bounded && q.capacity > 0 && len(q.pending)+len(q.inflight) >= q.capacity {
		return services.Wrap(services.ErrEnqueue, string(req.Stage), "enqueue", fmt.Sprintf("Queue is full (%d)", q.capacity), nil)
	}
	if req.Attempt < 1 {
		req.Attempt = 1
	}
	q.pushLocked(req, q.now())
	return nil
}

func (q *Queue) pushLocked(req Request, notBefore time.Time) Request {
	req.DeliveryID = uuid.NewString()
	entry := pending{req: req, notBefore: notBefore}
	idx := sort.Search(len(q.pending), func(i int) bool {
		return q.pending[i].notBefore.After(notBefore)
	})
	q.pending = append(q.pending, pending{})
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = entry
	q.keys[keyOf(req)] = req.DeliveryID
	q.notifyLocked()
	return req
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Dequeue blocks until a request is ready, then leases it until now+ttl.
func (q *Queue) Dequeue(ctx context.Context, ttl func(Request) time.Duration) (Request, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Request{}, ErrClosed
		}
		now := q.now()
		wait := time.Duration(-1)
		if len(q.pending) > 0 {
			head := q.pending[0]
			if !head.notBefore.After(now) {
				q.pending = q.pending[1:]
				deadline := now.Add(ttl(head.req))
				q.inflight[head.req.DeliveryID] = lease{req: head.req, deadline: deadline}
				q.mu.Unlock()
				return head.req, nil
			}
			wait = head.notBefore.Sub(now)
		}
		changed := q.changed
		q.mu.Unlock()

		var timer *time.Timer
		var fire <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return Request{}, ctx.Err()
		case <-changed:
		case <-fire:
		}
		stopTimer(timer)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Complete releases the lease and the (job, stage) reservation. It reports
// false when the lease already expired, in which case the caller must drop
// its result.
func (q *Queue) Complete(deliveryID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	held, ok := q.inflight[deliveryID]
	if !ok {
		return false
	}
	delete(q.inflight, deliveryID)
	if q.keys[keyOf(held.req)] == deliveryID {
		delete(q.keys, keyOf(held.req))
	}
	q.notifyLocked()
	return true
}

// Retry converts the lease into a pending request for the next attempt,
// available after delay. It returns the redelivered request, or false when
// the lease already expired.
func (q *Queue) Retry(deliveryID string, delay time.Duration) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	held, ok := q.inflight[deliveryID]
	if !ok {
		return Request{}, false
	}
	delete(q.inflight, deliveryID)
	next := held.req
	next.Attempt++
	return q.pushLocked(next, q.now().Add(delay)), true
}

// Release returns a lease to the queue without counting an attempt. Used when
// a worker stops because the pool is shutting down.
func (q *Queue) Release(deliveryID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	held, ok := q.inflight[deliveryID]
	if !ok {
		return false
	}
	delete(q.inflight, deliveryID)
	if q.closed {
		delete(q.keys, keyOf(held.req))
		return true
	}
	q.pushLocked(held.req, q.now())
	return true
}

// Expire removes every lease whose deadline passed and returns the requests.
// The (job, stage) reservation stays held; the caller either redelivers with
// Redeliver or gives up with Abandon.
func (q *Queue) Expire() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var expired []Request
	for id, held := range q.inflight {
		if now.After(held.deadline) {
			delete(q.inflight, id)
			expired = append(expired, held.req)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].JobID < expired[j].JobID })
	return expired
}

// Redeliver queues an expired request for its next attempt.
func (q *Queue) Redeliver(req Request, delay time.Duration) Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	req.Attempt++
	if q.closed {
		delete(q.keys, keyOf(req))
		return req
	}
	return q.pushLocked(req, q.now().Add(delay))
}

// Abandon drops the reservation of an expired request.
func (q *Queue) Abandon(req Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.keys[keyOf(req)] == req.DeliveryID {
		delete(q.keys, keyOf(req))
	}
}

// Discard removes pending requests for jobID and returns how many were
// dropped. In-flight requests are left to finish.
func (q *Queue) Discard(jobID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.pending[:0]
	dropped := 0
	for _, entry := range q.pending {
		if entry.req.JobID == jobID {
			delete(q.keys, keyOf(entry.req))
			dropped++
			continue
		}
		kept = append(kept, entry)
	}
	q.pending = kept
	if dropped > 0 {
		q.notifyLocked()
	}
	return dropped
}

// Close stops accepting requests and wakes blocked consumers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notifyLocked()
}

// Depth returns the number of pending requests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight returns the number of leased requests.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

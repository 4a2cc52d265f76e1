package progress

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"medscribe/internal/jobs"
	"medscribe/internal/logging"
)

// Event is a job status change as seen by subscribers.
type Event struct {
	JobID           string        `json:"job_id"`
	Status          jobs.Status   `json:"status"`
	ProgressPercent int           `json:"progress_percent"`
	Version         int64         `json:"version"`
	Timestamp       time.Time     `json:"timestamp"`
	Failure         *jobs.Failure `json:"failure,omitempty"`
	Snapshot        bool          `json:"snapshot,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Status.IsTerminal()
}

// FromJob builds an event from a persisted job.
func FromJob(job *jobs.Job, snapshot bool) Event {
	ev := Event{
		JobID:           job.ID,
		Status:          job.Status,
		ProgressPercent: job.ProgressPercent,
		Version:         job.Version,
		Timestamp:       job.UpdatedAt,
		Snapshot:        snapshot,
	}
	if job.Failure != nil {
		failure := *job.Failure
		ev.Failure = &failure
	}
	return ev
}

// SnapshotSource reads the current job state.
type SnapshotSource interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

// Broadcaster delivers job events to subscribers.
type Broadcaster struct {
	source SnapshotSource
	buffer int
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}

	dropped atomic.Int64
}

// NewBroadcaster constructs a broadcaster. buffer bounds each subscriber's
// queue of undelivered events.
func NewBroadcaster(source SnapshotSource, buffer int, logger *slog.Logger) *Broadcaster {
	if buffer < 2 {
		buffer = 2
	}
	return &Broadcaster{
		source: source,
		buffer: buffer,
		logger: logging.NewComponentLogger(logger, "progress"),
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe opens a stream for jobID. The first event is the current
// snapshot; a terminal snapshot closes the stream right after delivery.
func (b *Broadcaster) Subscribe(ctx context.Context, jobID string) (*Subscription, error) {
	sub := &Subscription{
		jobID: jobID,
		ch:    make(chan Event, b.buffer),
		b:     b,
	}
	b.mu.Lock()
	set := b.subs[jobID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		b.subs[jobID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	job, err := b.source.Get(ctx, jobID)
	if err != nil {
		b.unregister(sub)
		return nil, err
	}
	sub.start(FromJob(job, true))
	return sub, nil
}

// Publish delivers ev to every subscriber of its job without blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs[ev.JobID]))
	for sub := range b.subs[ev.JobID] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(ev)
	}
}

// Subscribers returns the number of open subscriptions for jobID.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// Total returns the number of open subscriptions across all jobs.
func (b *Broadcaster) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, set := range b.subs {
		total += len(set)
	}
	return total
}

// Dropped returns how many events were shed from full subscriber buffers.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Shutdown closes every subscription.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	var all []*Subscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range all {
		sub.Close()
	}
}

func (b *Broadcaster) unregister(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[sub.jobID]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.jobID)
	}
}

// Subscription is one subscriber's stream.
type Subscription struct {
	jobID string
	ch    chan Event
	b     *Broadcaster

	mu       sync.Mutex
	started  bool
	held     []Event
	snapshot int64
	closed   bool
}

// Events returns the stream. It is closed after a terminal event or Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// JobID returns the subscribed job.
func (s *Subscription) JobID() string {
	return s.jobID
}

// Close stops delivery and releases the subscription.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	s.b.unregister(s)
}

func (s *Subscription) start(snapshot Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.snapshot = snapshot.Version
	s.pushLocked(snapshot)
	held := s.held
	s.held = nil
	for _, ev := range held {
		if s.closed {
			return
		}
		s.deliverLocked(ev)
	}
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.started {
		s.held = append(s.held, ev)
		return
	}
	s.deliverLocked(ev)
}

func (s *Subscription) deliverLocked(ev Event) {
	if ev.Version > 0 && ev.Version <= s.snapshot {
		return
	}
	s.pushLocked(ev)
}

// pushLocked enqueues ev, shedding the oldest buffered live event when full.
// A terminal event closes the stream after it is queued.
func (s *Subscription) pushLocked(ev Event) {
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			if ev.Terminal() {
				s.closeLocked()
			}
			return
		default:
		}
		s.shedLocked()
	}
}

// shedLocked drops the oldest buffered event other than an unread snapshot.
// Only pushLocked sends on ch, so refilling the drained events cannot block.
func (s *Subscription) shedLocked() {
	buffered := make([]Event, 0, cap(s.ch))
drain:
	for {
		select {
		case ev := <-s.ch:
			buffered = append(buffered, ev)
		default:
			break drain
		}
	}
	victim := 0
	if len(buffered) > 0 && buffered[0].Snapshot {
		victim = 1
	}
	if victim < len(buffered) {
		buffered = append(buffered[:victim], buffered[victim+1:]...)
		s.b.dropped.Add(1)
		s.b.logger.Debug("subscriber buffer full; dropped oldest live event",
			logging.String(logging.FieldJobID, s.jobID),
		)
	}
	for _, ev := range buffered {
		s.ch <- ev
	}
}

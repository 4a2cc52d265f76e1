package progress_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"medscribe/internal/jobs"
	"medscribe/internal/logging"
	"medscribe/internal/progress"
	"medscribe/internal/testsupport"
)

func receive(t *testing.T, sub *progress.Subscription) (progress.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return progress.Event{}, false
	}
}

func advance(t *testing.T, store *jobs.Store, id string, to jobs.Status, pct int) *jobs.Job {
	t.Helper()
	job, err := store.Update(context.Background(), id, func(j *jobs.Job) error {
		return j.Advance(to, pct)
	})
	if err != nil {
		t.Fatalf("advance to %s: %v", to, err)
	}
	return job
}

func TestSubscribeDeliversSnapshotFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewTextJob(t, store, "hello")
	advance(t, store, job.ID, jobs.StatusTranscribing, 5)

	b := progress.NewBroadcaster(store, 8, logging.NewNop())
	sub, err := b.Subscribe(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	ev, ok := receive(t, sub)
	if !ok || !ev.Snapshot || ev.Status != jobs.StatusTranscribing || ev.ProgressPercent != 5 {
		t.Fatalf("unexpected snapshot %#v", ev)
	}
	if b.Subscribers(job.ID) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.Subscribers(job.ID))
	}

	// An event already reflected by the snapshot is dropped.
	b.Publish(progress.Event{JobID: job.ID, Status: jobs.StatusTranscribing, Version: ev.Version})
	next := advance(t, store, job.ID, jobs.StatusSynthesizing, 50)
	b.Publish(progress.FromJob(next, false))
	ev, ok = receive(t, sub)
	if !ok || ev.Status != jobs.StatusSynthesizing || ev.Snapshot {
		t.Fatalf("unexpected live event %#v", ev)
	}
}

func TestSubscribeAfterCompletionClosesImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewTextJob(t, store, "hello")
	if _, err := store.Update(context.Background(), job.ID, func(j *jobs.Job) error { return j.Cancel() }); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	b := progress.NewBroadcaster(store, 4, logging.NewNop())
	sub, err := b.Subscribe(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	ev, ok := receive(t, sub)
	if !ok || ev.Status != jobs.StatusCancelled || !ev.Snapshot {
		t.Fatalf("unexpected snapshot %#v", ev)
	}
	if _, ok := receive(t, sub); ok {
		t.Fatal("expected stream closed after terminal snapshot")
	}
	if b.Subscribers(job.ID) != 0 {
		t.Fatal("expected subscriber released")
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	b := progress.NewBroadcaster(store, 4, logging.NewNop())
	if _, err := b.Subscribe(context.Background(), "missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if b.Total() != 0 {
		t.Fatal("failed subscription must not stay registered")
	}
}

func TestPublishNeverBlocksAndKeepsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewTextJob(t, store, "hello")

	b := progress.NewBroadcaster(store, 3, logging.NewNop())
	slow, err := b.Subscribe(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	fast, err := b.Subscribe(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for pct := 1; pct <= 50; pct++ {
			b.Publish(progress.Event{JobID: job.ID, Status: jobs.StatusTranscribing, ProgressPercent: pct, Version: int64(pct + 1)})
		}
		b.Publish(progress.Event{JobID: job.ID, Status: jobs.StatusSucceeded, ProgressPercent: 100, Version: 100})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	for _, sub := range []*progress.Subscription{slow, fast} {
		var last progress.Event
		count := 0
		for ev := range sub.Events() {
			last = ev
			count++
		}
		if last.Status != jobs.StatusSucceeded {
			t.Fatalf("expected terminal event last, got %#v", last)
		}
		if count > 3 {
			t.Fatalf("expected at most buffer-size events, got %d", count)
		}
	}
	if b.Dropped() == 0 {
		t.Fatal("expected shed events to be counted")
	}
	if b.Total() != 0 {
		t.Fatal("expected all subscriptions released after terminal event")
	}
}

func TestOverflowKeepsUnreadSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewTextJob(t, store, "hello")

	b := progress.NewBroadcaster(store, 3, logging.NewNop())
	sub, err := b.Subscribe(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	for pct := 1; pct <= 10; pct++ {
		b.Publish(progress.Event{JobID: job.ID, Status: jobs.StatusTranscribing, ProgressPercent: pct, Version: int64(pct + 1)})
	}

	first, ok := receive(t, sub)
	if !ok || !first.Snapshot || first.Status != jobs.StatusQueued {
		t.Fatalf("expected the snapshot first, got %#v", first)
	}
	var percents []int
	for range 2 {
		ev, ok := receive(t, sub)
		if !ok || ev.Snapshot {
			t.Fatalf("unexpected event %#v", ev)
		}
		percents = append(percents, ev.ProgressPercent)
	}
	if percents[0] != 9 || percents[1] != 10 {
		t.Fatalf("expected the newest live events 9 and 10, got %v", percents)
	}
	if got := b.Dropped(); got != 8 {
		t.Fatalf("dropped = %d, want 8", got)
	}
}

func TestShutdownClosesStreams(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewTextJob(t, store, "hello")
	b := progress.NewBroadcaster(store, 4, logging.NewNop())
	sub, err := b.Subscribe(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	receive(t, sub)
	b.Shutdown()
	if _, ok := receive(t, sub); ok {
		t.Fatal("expected closed stream")
	}
	sub.Close()
}

package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"medscribe/internal/jobs"
	"medscribe/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	version, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected schema version >= 1, got %d", version)
	}
	if store.Target() != cfg.SQLitePath() {
		t.Fatalf("unexpected target %q", store.Target())
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewAudioJob(t, store, "uploads/visit.wav", true)
	if job.ID == "" {
		t.Fatal("expected id to be assigned")
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Status != jobs.StatusQueued || fetched.Version != 1 {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
	if fetched.Input.Ref != "uploads/visit.wav" || !fetched.Options.Diarization {
		t.Fatalf("input/options not persisted: %#v %#v", fetched.Input, fetched.Options)
	}
	if fetched.Submitter != "tester" {
		t.Fatalf("submitter = %q", fetched.Submitter)
	}
	if !fetched.CreatedAt.Equal(job.CreatedAt) {
		t.Fatalf("created_at drifted: %v vs %v", fetched.CreatedAt, job.CreatedAt)
	}
	if len(fetched.History) != 1 || fetched.History[0].Status != jobs.StatusQueued {
		t.Fatalf("unexpected history: %#v", fetched.History)
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewTextJob(t, store, "hello")
	dup := jobs.New(jobs.Input{Kind: jobs.InputText, Text: "again"}, jobs.Options{}, "")
	dup.ID = job.ID
	if _, err := store.Create(ctx, dup); !errors.Is(err, jobs.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAppliesTransitionAndBumpsVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewAudioJob(t, store, "a.wav", false)

	updated, err := store.Update(ctx, job.ID, func(j *jobs.Job) error {
		if err := j.Advance(jobs.StatusTranscribing, 5); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Status != jobs.StatusTranscribing || updated.Version != 2 {
		t.Fatalf("unexpected updated job: status=%s version=%d", updated.Status, updated.Version)
	}

	updated, err = store.Update(ctx, job.ID, func(j *jobs.Job) error {
		if err := j.RecordOutput("transcription", "patient reports headache"); err != nil {
			return err
		}
		return j.Advance(jobs.StatusSynthesizing, 50)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out, _ := fetched.Output("transcription"); out != "patient reports headache" {
		t.Fatalf("stage output not persisted: %q", out)
	}
	if fetched.Version != updated.Version || fetched.ProgressPercent != 50 {
		t.Fatalf("persisted job mismatch: %#v", fetched)
	}
}

func TestUpdateDeclinedLeavesRecordUnchanged(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewAudioJob(t, store, "a.wav", false)

	current, err := store.Update(ctx, job.ID, func(j *jobs.Job) error {
		_ = j.Advance(jobs.StatusTranscribing, 5)
		return jobs.ErrNoChange
	})
	if !errors.Is(err, jobs.ErrNoChange) {
		t.Fatalf("expected ErrNoChange passthrough, got %v", err)
	}
	if current == nil || current.Status != jobs.StatusQueued {
		t.Fatalf("expected unmodified record, got %#v", current)
	}
	fetched, _ := store.Get(ctx, job.ID)
	if fetched.Version != 1 || fetched.Status != jobs.StatusQueued {
		t.Fatalf("declined update was persisted: %#v", fetched)
	}
}

func TestConcurrentUpdatesToSameJobAreLinearizable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewAudioJob(t, store, "a.wav", false)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.Update(ctx, job.ID, func(j *jobs.Job) error {
				return j.RecordOutput(fmt.Sprintf("note-%d", n), "x")
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent update failed: %v", err)
		}
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(fetched.StageOutputs) != writers {
		t.Fatalf("expected %d outputs, got %d (lost update)", writers, len(fetched.StageOutputs))
	}
	if fetched.Version != int64(writers+1) {
		t.Fatalf("expected version %d, got %d", writers+1, fetched.Version)
	}
}

func TestListFiltersByStatusAndSubmitter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewAudioJob(t, store, "a.wav", false)
	second := testsupport.NewTextJob(t, store, "hello")
	other := jobs.New(jobs.Input{Kind: jobs.InputText, Text: "x"}, jobs.Options{}, "someone-else")
	if _, err := store.Create(ctx, other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Update(ctx, first.ID, func(j *jobs.Job) error { return j.Cancel() }); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	queued, err := store.List(ctx, jobs.Filter{Statuses: []jobs.Status{jobs.StatusQueued}, Submitter: "tester"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != second.ID {
		t.Fatalf("unexpected queued list: %#v", queued)
	}

	all, err := store.List(ctx, jobs.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(all))
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active jobs, got %d", len(active))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[jobs.StatusQueued] != 2 || stats[jobs.StatusCancelled] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}

func TestPurgeTerminalRemovesOnlyExpiredTerminalJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	done := testsupport.NewTextJob(t, store, "done")
	active := testsupport.NewTextJob(t, store, "active")
	if _, err := store.Update(ctx, done.ID, func(j *jobs.Job) error { return j.Cancel() }); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	removed, err := store.PurgeTerminal(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeTerminal failed: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("expected nothing older than an hour, got %v", removed)
	}

	removed, err = store.PurgeTerminal(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeTerminal failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != done.ID {
		t.Fatalf("unexpected purge result: %v", removed)
	}
	if _, err := store.Get(ctx, done.ID); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected purged job to be gone, got %v", err)
	}
	if _, err := store.Get(ctx, active.ID); err != nil {
		t.Fatalf("active job should survive purge: %v", err)
	}
}

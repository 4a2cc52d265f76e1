package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medscribe/internal/config"
	"medscribe/internal/jobs"
	"medscribe/internal/logging"
	"medscribe/internal/progress"
	"medscribe/internal/services"
	"medscribe/internal/stage"
	"medscribe/internal/taskqueue"
	"medscribe/internal/testsupport"
	"medscribe/internal/workflow"
)

type stubExecutor struct {
	name        stage.Name
	unavailable bool
	execute     func(ctx context.Context, in stage.Input) (string, error)
}

func (s *stubExecutor) Name() stage.Name { return s.name }

func (s *stubExecutor) Execute(ctx context.Context, in stage.Input) (string, error) {
	if s.execute != nil {
		return s.execute(ctx, in)
	}
	return string(s.name) + " output", nil
}

func (s *stubExecutor) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(string(s.name))
}

func (s *stubExecutor) Available() bool { return !s.unavailable }

type recordingPublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (p *recordingPublisher) Publish(ev progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) statuses() []jobs.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]jobs.Status, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Status)
	}
	return out
}

type harness struct {
	store     *jobs.Store
	queue     *taskqueue.Queue
	publisher *recordingPublisher
	manager   *workflow.Manager
	diarizer  *stubExecutor
}

func newHarness(t *testing.T, executors ...*stubExecutor) *harness {
	t.Helper()
	return newHarnessWith(t, testsupport.NewConfig(t), executors...)
}

func newHarnessWith(t *testing.T, cfg *config.Config, executors ...*stubExecutor) *harness {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	queue := taskqueue.NewQueue(cfg.Workers.QueueCapacity)
	h := &harness{store: store, queue: queue, publisher: &recordingPublisher{}}
	if len(executors) == 0 {
		h.diarizer = &stubExecutor{name: stage.Diarization}
		executors = []*stubExecutor{
			{name: stage.Transcription},
			h.diarizer,
			{name: stage.Synthesis},
		}
	}
	list := make([]stage.Executor, 0, len(executors))
	for _, exec := range executors {
		if exec.name == stage.Diarization {
			h.diarizer = exec
		}
		list = append(list, exec)
	}
	h.manager = workflow.NewManager(cfg, store, queue, list, h.publisher, logging.NewNop())
	return h
}

func (h *harness) get(t *testing.T, id string) *jobs.Job {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return job
}

// take dequeues the next request and settles it.
func (h *harness) take(t *testing.T) taskqueue.Request {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, err := h.queue.Dequeue(ctx, func(taskqueue.Request) time.Duration { return time.Minute })
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	h.queue.Complete(req.DeliveryID)
	return req
}

func (h *harness) apply(t *testing.T, ev taskqueue.Event) {
	t.Helper()
	if err := h.manager.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply(%s %s): %v", ev.Kind, ev.Stage, err)
	}
}

func event(kind taskqueue.EventKind, jobID string, name stage.Name, output string, err error) taskqueue.Event {
	return taskqueue.Event{Kind: kind, JobID: jobID, Stage: name, Attempt: 1, Output: output, Err: err}
}

func TestDispatchAudioQueuesTranscription(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", false)

	if _, err := h.manager.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	req := h.take(t)
	if req.Stage != stage.Transcription || req.JobID != job.ID || req.InputRef != "uploads/a.wav" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if got := h.get(t, job.ID).Status; got != jobs.StatusQueued {
		t.Fatalf("status = %s, want queued", got)
	}
}

func TestDispatchTextBypassesTranscription(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewTextJob(t, h.store, "Patient reports a mild headache.")

	updated, err := h.manager.Dispatch(context.Background(), job)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if updated.Status != jobs.StatusSynthesizing || updated.ProgressPercent != 50 {
		t.Fatalf("unexpected job after dispatch: %s %d", updated.Status, updated.ProgressPercent)
	}
	if out, _ := updated.Output(string(stage.Transcription)); out != "Patient reports a mild headache." {
		t.Fatalf("transcript = %q", out)
	}
	if req := h.take(t); req.Stage != stage.Synthesis {
		t.Fatalf("queued stage = %s, want synthesis", req.Stage)
	}
	if statuses := h.publisher.statuses(); len(statuses) != 1 || statuses[0] != jobs.StatusSynthesizing {
		t.Fatalf("published %v", statuses)
	}
}

func TestApplyRunsFullPipelineWithDiarization(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", true)
	if _, err := h.manager.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	h.take(t)

	h.apply(t, event(taskqueue.EventStarted, job.ID, stage.Transcription, "", nil))
	h.apply(t, event(taskqueue.EventCompleted, job.ID, stage.Transcription, "hello doctor", nil))
	if got := h.get(t, job.ID); got.Status != jobs.StatusDiarizing || got.ProgressPercent != 40 {
		t.Fatalf("after transcription: %s %d", got.Status, got.ProgressPercent)
	}
	if req := h.take(t); req.Stage != stage.Diarization {
		t.Fatalf("queued %s, want diarization", req.Stage)
	}

	h.apply(t, event(taskqueue.EventCompleted, job.ID, stage.Diarization, "Clinician: hello doctor", nil))
	if got := h.get(t, job.ID); got.Status != jobs.StatusSynthesizing || got.ProgressPercent != 70 {
		t.Fatalf("after diarization: %s %d", got.Status, got.ProgressPercent)
	}
	if req := h.take(t); req.Stage != stage.Synthesis {
		t.Fatalf("queued %s, want synthesis", req.Stage)
	}

	h.apply(t, event(taskqueue.EventCompleted, job.ID, stage.Synthesis, "S: ...", nil))
	final := h.get(t, job.ID)
	if final.Status != jobs.StatusSucceeded || final.ProgressPercent != 100 {
		t.Fatalf("final: %s %d", final.Status, final.ProgressPercent)
	}
	for _, name := range stage.Names() {
		if _, ok := final.Output(string(name)); !ok {
			t.Fatalf("missing %s output", name)
		}
	}
	want := []jobs.Status{jobs.StatusTranscribing, jobs.StatusDiarizing, jobs.StatusSynthesizing, jobs.StatusSucceeded}
	got := h.publisher.statuses()
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("published %v, want %v", got, want)
		}
	}
}

func TestApplySkipsDiarizationWhenNotRequested(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", false)

	h.apply(t, event(taskqueue.EventStarted, job.ID, stage.Transcription, "", nil))
	h.apply(t, event(taskqueue.EventCompleted, job.ID, stage.Transcription, "hello", nil))
	if got := h.get(t, job.ID); got.Status != jobs.StatusSynthesizing || got.ProgressPercent != 50 {
		t.Fatalf("got %s %d", got.Status, got.ProgressPercent)
	}
}

func TestApplySkipsDiarizationWhenExecutorUnavailable(t *testing.T) {
	h := newHarness(t)
	h.diarizer.unavailable = true
	job := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", true)

	h.apply(t, event(taskqueue.EventCompleted, job.ID, stage.Transcription, "hello", nil))
	if got := h.get(t, job.ID); got.Status != jobs.StatusSynthesizing {
		t.Fatalf("status = %s, want synthesizing", got.Status)
	}
}

func TestApplySkipsDiarizationAfterUnavailableFailure(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", true)
	h.apply(t, event(taskqueue.EventCompleted, job.ID, stage.Transcription, "hello", nil))
	h.take(t)

	unavailable := services.Wrap(services.ErrStageUnavailable, "diarization", "diarize", "token missing", nil)
	h.apply(t, event(taskqueue.EventExhausted, job.ID, stage.Diarization, "", unavailable))

	got := h.get(t, job.ID)
	if got.Status != jobs.StatusSynthesizing || got.Failure != nil {
		t.Fatalf("got %s failure=%+v", got.Status, got.Failure)
	}
	if req := h.take(t); req.Stage != stage.Synthesis {
		t.Fatalf("queued %s, want synthesis", req.Stage)
	}
	in, err := stage.BuildInput(got, stage.Synthesis)
	if err != nil || in.Prior != "hello" {
		t.Fatalf("synthesis input = %q, %v", in.Prior, err)
	}
}

func TestApplyFailsJobOnPermanentSynthesisFailure(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		reason jobs.FailureReason
	}{
		{"processing", services.Wrap(services.ErrStageProcessing, "synthesis", "complete", "bad response", nil), jobs.ReasonStageProcessing},
		{"timeout", services.Wrap(services.ErrStageTimeout, "synthesis", "complete", "too slow", nil), jobs.ReasonStageTimeout},
		{"unavailable", services.Wrap(services.ErrStageUnavailable, "synthesis", "complete", "llm down", nil), jobs.ReasonStageProcessing},
		{"worker lost", services.Wrap(services.ErrWorkerLost, "synthesis", "lease", "expired", nil), jobs.ReasonWorkerLost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			job := testsupport.NewTextJob(t, h.store, "transcript")
			if _, err := h.manager.Dispatch(context.Background(), job); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			h.apply(t, event(taskqueue.EventExhausted, job.ID, stage.Synthesis, "", tc.err))

			got := h.get(t, job.ID)
			if got.Status != jobs.StatusFailed || got.Failure == nil {
				t.Fatalf("got %s failure=%+v", got.Status, got.Failure)
			}
			if got.Failure.Stage != jobs.StatusSynthesizing || got.Failure.Reason != tc.reason {
				t.Fatalf("failure = %+v", got.Failure)
			}
			if got.ProgressPercent != 50 {
				t.Fatalf("progress = %d, want 50", got.ProgressPercent)
			}
		})
	}
}

func TestApplyDiscardsResultsAfterCancel(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", false)
	if _, err := h.manager.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	h.apply(t, event(taskqueue.EventStarted, job.ID, stage.Transcription, "", nil))

	if _, err := h.manager.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if h.queue.Depth() != 0 {
		t.Fatalf("queue depth = %d after cancel", h.queue.Depth())
	}

	err := h.manager.Apply(context.Background(), event(taskqueue.EventCompleted, job.ID, stage.Transcription, "late", nil))
	if !errors.Is(err, jobs.ErrNoChange) {
		t.Fatalf("Apply late result err = %v, want ErrNoChange", err)
	}
	got := h.get(t, job.ID)
	if got.Status != jobs.StatusCancelled || len(got.StageOutputs) != 0 {
		t.Fatalf("got %s outputs=%v", got.Status, got.StageOutputs)
	}

	if _, err := h.manager.Cancel(context.Background(), job.ID); !errors.Is(err, jobs.ErrTerminal) {
		t.Fatalf("second Cancel err = %v, want ErrTerminal", err)
	}
}

func TestApplyDiscardsDuplicateCompletion(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", false)
	h.apply(t, event(taskqueue.EventCompleted, job.ID, stage.Transcription, "first", nil))
	before := h.get(t, job.ID)

	err := h.manager.Apply(context.Background(), event(taskqueue.EventCompleted, job.ID, stage.Transcription, "second", nil))
	if !errors.Is(err, jobs.ErrNoChange) {
		t.Fatalf("duplicate Apply err = %v", err)
	}
	after := h.get(t, job.ID)
	if after.Version != before.Version {
		t.Fatalf("version moved from %d to %d", before.Version, after.Version)
	}
	if out, _ := after.Output(string(stage.Transcription)); out != "first" {
		t.Fatalf("transcript = %q", out)
	}
}

func TestDispatchFailsJobWhenEnqueueFails(t *testing.T) {
	h := newHarness(t)
	h.queue.Close()
	job := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", false)

	_, err := h.manager.Dispatch(context.Background(), job)
	if !errors.Is(err, services.ErrEnqueue) {
		t.Fatalf("Dispatch err = %v, want ErrEnqueue", err)
	}
	got := h.get(t, job.ID)
	if got.Status != jobs.StatusFailed || got.Failure == nil || got.Failure.Reason != jobs.ReasonEnqueueFailed {
		t.Fatalf("got %s failure=%+v", got.Status, got.Failure)
	}
}

func TestApplyContinuesAdmittedJobWhenQueueIsFull(t *testing.T) {
	h := newHarnessWith(t, testsupport.NewConfig(t, testsupport.WithQueueCapacity(1)))
	ctx := context.Background()
	first := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", false)
	if _, err := h.manager.Dispatch(ctx, first); err != nil {
		t.Fatalf("Dispatch first: %v", err)
	}
	req := h.take(t)
	if req.JobID != first.ID {
		t.Fatalf("took %s, want %s", req.JobID, first.ID)
	}

	second := testsupport.NewAudioJob(t, h.store, "uploads/b.wav", false)
	if _, err := h.manager.Dispatch(ctx, second); err != nil {
		t.Fatalf("Dispatch second: %v", err)
	}
	third := testsupport.NewAudioJob(t, h.store, "uploads/c.wav", false)
	if _, err := h.manager.Dispatch(ctx, third); !errors.Is(err, services.ErrEnqueue) {
		t.Fatalf("Dispatch third err = %v, want ErrEnqueue", err)
	}

	h.apply(t, event(taskqueue.EventCompleted, first.ID, stage.Transcription, "hello", nil))
	got := h.get(t, first.ID)
	if got.Status != jobs.StatusSynthesizing || got.Failure != nil {
		t.Fatalf("first job %s failure=%+v", got.Status, got.Failure)
	}
	if h.queue.Depth() != 2 {
		t.Fatalf("queue depth = %d, want 2", h.queue.Depth())
	}
	if got := h.get(t, third.ID); got.Status != jobs.StatusFailed || got.Failure.Reason != jobs.ReasonEnqueueFailed {
		t.Fatalf("third job %s failure=%+v", got.Status, got.Failure)
	}
}

func TestRecoverIgnoresQueueCapacity(t *testing.T) {
	h := newHarnessWith(t, testsupport.NewConfig(t, testsupport.WithQueueCapacity(1)))
	queued := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", false)
	midway := testsupport.NewAudioJob(t, h.store, "uploads/b.wav", false)
	h.apply(t, event(taskqueue.EventCompleted, midway.ID, stage.Transcription, "hello", nil))
	h.take(t)

	count, err := h.manager.Recover(context.Background())
	if err != nil || count != 2 {
		t.Fatalf("Recover = %d, %v", count, err)
	}
	for _, id := range []string{queued.ID, midway.ID} {
		if got := h.get(t, id); got.Status.IsTerminal() {
			t.Fatalf("job %s ended %s: %+v", id, got.Status, got.Failure)
		}
	}
}

func TestResolveSkipsStaleRequests(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", false)
	h.apply(t, event(taskqueue.EventCompleted, job.ID, stage.Transcription, "hello", nil))

	_, err := h.manager.Resolve(context.Background(), taskqueue.Request{JobID: job.ID, Stage: stage.Transcription})
	if !errors.Is(err, taskqueue.ErrSkip) {
		t.Fatalf("Resolve transcription err = %v, want ErrSkip", err)
	}
	in, err := h.manager.Resolve(context.Background(), taskqueue.Request{JobID: job.ID, Stage: stage.Synthesis})
	if err != nil || in.Prior != "hello" {
		t.Fatalf("Resolve synthesis = %+v, %v", in, err)
	}
	if _, err := h.manager.Resolve(context.Background(), taskqueue.Request{JobID: "missing", Stage: stage.Synthesis}); !errors.Is(err, taskqueue.ErrSkip) {
		t.Fatalf("Resolve missing err = %v", err)
	}
}

func TestRecoverRequeuesActiveJobs(t *testing.T) {
	h := newHarness(t)
	queued := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", false)
	midway := testsupport.NewAudioJob(t, h.store, "uploads/b.wav", false)
	h.apply(t, event(taskqueue.EventCompleted, midway.ID, stage.Transcription, "hello", nil))
	h.take(t)
	done := testsupport.NewTextJob(t, h.store, "x")
	if _, err := h.manager.Cancel(context.Background(), done.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	count, err := h.manager.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if count != 2 {
		t.Fatalf("recovered %d, want 2", count)
	}
	seen := map[string]stage.Name{}
	seen[h.take(t).JobID] = ""
	seen[h.take(t).JobID] = ""
	if _, ok := seen[queued.ID]; !ok {
		t.Fatalf("queued job not requeued")
	}
	if _, ok := seen[midway.ID]; !ok {
		t.Fatalf("midway job not requeued")
	}
}

func TestManagerRunsPipelineEndToEnd(t *testing.T) {
	transcriber := &stubExecutor{name: stage.Transcription, execute: func(context.Context, stage.Input) (string, error) {
		return "we discussed the rash", nil
	}}
	var attempts int
	var mu sync.Mutex
	synthesizer := &stubExecutor{name: stage.Synthesis, execute: func(_ context.Context, in stage.Input) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return "", services.Wrap(services.ErrStageProcessing, "synthesis", "complete", "flaky", nil)
		}
		return "NOTE: " + in.Prior, nil
	}}
	h := newHarness(t, transcriber, &stubExecutor{name: stage.Diarization, unavailable: true}, synthesizer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.manager.Stop()

	job := testsupport.NewAudioJob(t, h.store, "uploads/a.wav", true)
	if _, err := h.manager.Dispatch(ctx, job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		got := h.get(t, job.ID)
		if got.Status.IsTerminal() {
			if got.Status != jobs.StatusSucceeded {
				t.Fatalf("job ended %s: %+v", got.Status, got.Failure)
			}
			if note, _ := got.Output(string(stage.Synthesis)); note != "NOTE: we discussed the rash" {
				t.Fatalf("note = %q", note)
			}
			if _, ok := got.Output(string(stage.Diarization)); ok {
				t.Fatal("diarization output recorded despite unavailable executor")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", got.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestManagerRetriesUnavailableSynthesisBeforeFailing(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	synthesizer := &stubExecutor{name: stage.Synthesis, execute: func(context.Context, stage.Input) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return "", services.Wrap(services.ErrStageUnavailable, "synthesis", "complete", "connection refused", nil)
	}}
	h := newHarness(t, &stubExecutor{name: stage.Transcription}, synthesizer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.manager.Stop()

	job := testsupport.NewTextJob(t, h.store, "patient reports a cough")
	if _, err := h.manager.Dispatch(ctx, job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		got := h.get(t, job.ID)
		if got.Status.IsTerminal() {
			if got.Status != jobs.StatusFailed || got.Failure == nil {
				t.Fatalf("job ended %s: %+v", got.Status, got.Failure)
			}
			if got.Failure.Stage != jobs.StatusSynthesizing || got.Failure.Reason != jobs.ReasonStageProcessing {
				t.Fatalf("failure = %+v", got.Failure)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", got.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if want := 3; calls != want {
		t.Fatalf("synthesis calls = %d, want %d", calls, want)
	}
}

func TestHealthChecksCoverEveryStage(t *testing.T) {
	h := newHarness(t)
	summary, err := h.manager.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(summary.StageHealth) != 3 || !summary.Ready() {
		t.Fatalf("unexpected health: %+v", summary.StageHealth)
	}
	if summary.Running {
		t.Fatal("manager reported running before Start")
	}
}

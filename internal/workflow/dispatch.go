package workflow

import (
	"context"
	"errors"
	"fmt"

	"medscribe/internal/jobs"
	"medscribe/internal/logging"
	"medscribe/internal/services"
	"medscribe/internal/stage"
	"medscribe/internal/taskqueue"
)

// Dispatch starts the pipeline for a freshly created job. Text submissions
// bypass transcription: the text is recorded as the transcript and the job
// moves straight to synthesis. Fresh jobs are subject to the queue capacity.
func (m *Manager) Dispatch(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	return m.dispatch(ctx, job, true)
}

func (m *Manager) dispatch(ctx context.Context, job *jobs.Job, admit bool) (*jobs.Job, error) {
	if job == nil {
		return nil, errors.New("dispatch: nil job")
	}
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, m.logger)

	if job.Input.Kind == jobs.InputText {
		updated, err := m.store.Update(ctx, job.ID, func(j *jobs.Job) error {
			if err := j.Advance(jobs.StatusTranscribing, progressTranscribing); err != nil {
				return err
			}
			if err := j.RecordOutput(string(stage.Transcription), j.Input.Text); err != nil {
				return err
			}
			return j.Advance(jobs.StatusSynthesizing, progressTranscribedDirect)
		})
		if err != nil {
			return nil, fmt.Errorf("dispatch text job: %w", err)
		}
		m.persisted(updated)
		logger.Info("text submission bypassed transcription", logging.String("status", string(updated.Status)))
		return m.enqueueNext(ctx, updated, stage.Synthesis, admit)
	}
	return m.enqueueNext(ctx, job, stage.Transcription, admit)
}

// enqueueNext queues the stage the job now expects. Only admission of a new
// job is bounded by capacity. A failed enqueue fails the job so it never waits
// on a request that does not exist.
func (m *Manager) enqueueNext(ctx context.Context, job *jobs.Job, name stage.Name, admit bool) (*jobs.Job, error) {
	req := taskqueue.Request{JobID: job.ID, Stage: name, InputRef: job.Input.Ref}
	var err error
	if admit {
		err = m.queue.Enqueue(ctx, req)
	} else {
		err = m.queue.Continue(ctx, req)
	}
	if err == nil {
		return job, nil
	}
	logger := logging.WithContext(ctx, m.logger)
	logging.ErrorWithContext(logger, "stage enqueue failed", "enqueue_failed",
		logging.String(logging.FieldStage, string(name)),
		logging.Error(err),
	)
	failed, ferr := m.store.Update(ctx, job.ID, func(j *jobs.Job) error {
		return j.Fail(jobs.ReasonEnqueueFailed, truncate(err.Error()))
	})
	if ferr != nil {
		if errors.Is(ferr, jobs.ErrInvalidTransition) {
			// Cancelled concurrently; nothing left to fail.
			return failed, nil
		}
		return nil, fmt.Errorf("record enqueue failure: %w", errors.Join(err, ferr))
	}
	m.persisted(failed)
	if errors.Is(err, services.ErrEnqueue) {
		return failed, err
	}
	return failed, services.Wrap(services.ErrEnqueue, string(name), "enqueue", "Failed to queue stage", err)
}

// Resolve rebuilds executor input for a queued request. Requests for jobs
// that are gone, terminal, or no longer at the request's stage are skipped.
func (m *Manager) Resolve(ctx context.Context, req taskqueue.Request) (stage.Input, error) {
	job, err := m.store.Get(ctx, req.JobID)
	if errors.Is(err, jobs.ErrNotFound) {
		return stage.Input{}, fmt.Errorf("%w: %w", taskqueue.ErrSkip, err)
	}
	if err != nil {
		return stage.Input{}, services.Wrap(services.ErrTransient, string(req.Stage), "resolve", "Failed to load job", err)
	}
	expected, ok := stage.ForStatus(job.Status)
	if !ok || expected != req.Stage {
		return stage.Input{}, fmt.Errorf("%w: job %s is %s", taskqueue.ErrSkip, job.ID, job.Status)
	}
	if _, done := job.Output(string(req.Stage)); done {
		return stage.Input{}, fmt.Errorf("%w: %s output already recorded", taskqueue.ErrSkip, req.Stage)
	}
	in, err := stage.BuildInput(job, req.Stage)
	if err != nil {
		return stage.Input{}, services.Wrap(services.ErrValidation, string(req.Stage), "resolve", "Job is missing prior stage output", err)
	}
	return in, nil
}

// Cancel moves a non-terminal job to cancelled and drops its queued work.
// In-flight attempts finish and their results are discarded.
func (m *Manager) Cancel(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := m.store.Update(ctx, id, func(j *jobs.Job) error {
		return j.Cancel()
	})
	if err != nil {
		return job, err
	}
	m.persisted(job)
	dropped := m.queue.Discard(id)
	logging.WithContext(services.WithJobID(ctx, id), m.logger).Info("job cancelled",
		logging.Int("discarded_requests", dropped),
	)
	return job, nil
}

// Recover re-dispatches every non-terminal job after a restart. Queued and
// in-progress jobs have their expected stage enqueued again outside the
// admission bound; the queue collapses duplicates.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	active, err := m.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}
	recovered := 0
	for _, job := range active {
		jobCtx := services.WithJobID(ctx, job.ID)
		if job.Status == jobs.StatusQueued {
			if _, err := m.dispatch(jobCtx, job, false); err != nil {
				logging.WarnWithContext(logging.WithContext(jobCtx, m.logger), "recovery dispatch failed", "recover_failed", logging.Error(err))
				continue
			}
			recovered++
			continue
		}
		name, ok := stage.ForStatus(job.Status)
		if !ok {
			continue
		}
		if _, err := m.enqueueNext(jobCtx, job, name, false); err != nil {
			logging.WarnWithContext(logging.WithContext(jobCtx, m.logger), "recovery enqueue failed", "recover_failed", logging.Error(err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		m.logger.Info("recovered active jobs", logging.Int("count", recovered))
	}
	return recovered, nil
}

func truncate(message string) string {
	runes := []rune(message)
	if len(runes) <= failureMessageLimit {
		return message
	}
	return string(runes[:failureMessageLimit]) + "…"
}

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

// Apply folds one worker event into the job record. Events that no longer
// apply (terminal job, stage already passed, output already recorded) are
// discarded and reported as jobs.ErrNoChange.
func (m *Manager) Apply(ctx context.Context, ev taskqueue.Event) error {
	ctx = services.WithJobID(ctx, ev.JobID)
	ctx = services.WithStage(ctx, string(ev.Stage))
	ctx = services.WithAttempt(ctx, ev.Attempt)
	logger := logging.WithContext(ctx, m.logger)

	if ev.Kind == taskqueue.EventRetrying {
		logger.Debug("stage attempt will be retried", logging.Duration("retry_in", ev.RetryIn), logging.Error(ev.Err))
		return nil
	}
	if ev.Kind == taskqueue.EventStarted && ev.Stage != stage.Transcription {
		// Only the first stage moves the job out of Queued on start.
		return nil
	}

	var next stage.Name
	updated, err := m.store.Update(ctx, ev.JobID, func(j *jobs.Job) error {
		next = ""
		if err := expectStage(j, ev.Stage); err != nil {
			return err
		}
		switch ev.Kind {
		case taskqueue.EventStarted:
			if j.Status != jobs.StatusQueued {
				return jobs.ErrNoChange
			}
			return j.Advance(jobs.StatusTranscribing, progressTranscribing)
		case taskqueue.EventCompleted:
			var err error
			next, err = m.complete(j, ev)
			return err
		case taskqueue.EventExhausted:
			var err error
			next, err = m.exhaust(j, ev)
			return err
		default:
			return fmt.Errorf("%w: unknown event kind %q", jobs.ErrNoChange, ev.Kind)
		}
	})
	if err != nil {
		if errors.Is(err, jobs.ErrNoChange) || errors.Is(err, jobs.ErrOutputExists) {
			status := ""
			if updated != nil {
				status = string(updated.Status)
			}
			logger.Info("discarding stale stage event",
				logging.String(logging.FieldEventType, "stale_event"),
				logging.String("kind", string(ev.Kind)),
				logging.String("status", status),
			)
			return jobs.ErrNoChange
		}
		if errors.Is(err, jobs.ErrNotFound) {
			logger.Info("discarding event for deleted job", logging.String(logging.FieldEventType, "stale_event"))
			return jobs.ErrNoChange
		}
		logging.ErrorWithContext(logger, "failed to persist stage event", "persist_failed", logging.Error(err))
		return err
	}

	m.persisted(updated)
	if ev.Kind == taskqueue.EventExhausted && ev.Stage == stage.Diarization && updated.Status == jobs.StatusSynthesizing {
		logging.WarnWithContext(logger, "diarization unavailable; continuing with plain transcript", "diarization_skipped", logging.Error(ev.Err))
	}
	logger.Info("job transitioned",
		logging.String("kind", string(ev.Kind)),
		logging.String("status", string(updated.Status)),
		logging.Int("progress_percent", updated.ProgressPercent),
	)
	if next == "" {
		return nil
	}
	_, err = m.enqueueNext(ctx, updated, next, false)
	return err
}

// expectStage rejects events for terminal jobs and for stages the job is no
// longer waiting on.
func expectStage(j *jobs.Job, name stage.Name) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: job is %s", jobs.ErrNoChange, j.Status)
	}
	expected, ok := stage.ForStatus(j.Status)
	if !ok || expected != name {
		return fmt.Errorf("%w: job is %s", jobs.ErrNoChange, j.Status)
	}
	return nil
}

// complete records a stage output and advances to the next status. The
// returned name is the stage to enqueue, empty once the job succeeded.
func (m *Manager) complete(j *jobs.Job, ev taskqueue.Event) (stage.Name, error) {
	if j.Status == jobs.StatusQueued {
		if err := j.Advance(jobs.StatusTranscribing, progressTranscribing); err != nil {
			return "", err
		}
	}
	if err := j.RecordOutput(string(ev.Stage), ev.Output); err != nil {
		return "", err
	}
	switch ev.Stage {
	case stage.Transcription:
		if j.Options.Diarization && m.diarizationAvailable() {
			return stage.Diarization, j.Advance(jobs.StatusDiarizing, progressTranscribedDiarize)
		}
		return stage.Synthesis, j.Advance(jobs.StatusSynthesizing, progressTranscribedDirect)
	case stage.Diarization:
		return stage.Synthesis, j.Advance(jobs.StatusSynthesizing, progressDiarized)
	case stage.Synthesis:
		return "", j.Advance(jobs.StatusSucceeded, progressSucceeded)
	default:
		return "", fmt.Errorf("unknown stage %q", ev.Stage)
	}
}

// exhaust settles a permanent stage failure. Unavailable diarization is
// skipped; any other stage fails the job with a classified reason.
func (m *Manager) exhaust(j *jobs.Job, ev taskqueue.Event) (stage.Name, error) {
	if ev.Stage == stage.Diarization && errors.Is(ev.Err, services.ErrStageUnavailable) {
		return stage.Synthesis, j.Advance(jobs.StatusSynthesizing, progressTranscribedDirect)
	}
	if j.Status == jobs.StatusQueued {
		if err := j.Advance(jobs.StatusTranscribing, progressTranscribing); err != nil {
			return "", err
		}
	}
	reason := services.Classify(ev.Err)
	if reason == jobs.ReasonStageUnavailable {
		reason = jobs.ReasonStageProcessing
	}
	message := "stage failed"
	if ev.Err != nil {
		message = ev.Err.Error()
	}
	return "", j.Fail(reason, truncate(message))
}

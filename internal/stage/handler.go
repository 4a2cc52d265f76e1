package stage

import (
	"context"

	"medscribe/internal/jobs"
)

// Name identifies one of the pipeline stages.
type Name string

const (
	Transcription Name = "transcription"
	Diarization   Name = "diarization"
	Synthesis     Name = "synthesis"
)

// Names lists the stages in pipeline order.
func Names() []Name {
	return []Name{Transcription, Diarization, Synthesis}
}

// Status returns the job status held while the stage runs.
func (n Name) Status() jobs.Status {
	switch n {
	case Transcription:
		return jobs.StatusTranscribing
	case Diarization:
		return jobs.StatusDiarizing
	case Synthesis:
		return jobs.StatusSynthesizing
	default:
		return ""
	}
}

// ForStatus returns the stage that should run next for a job in status.
// Queued jobs expect transcription; terminal jobs expect nothing.
func ForStatus(status jobs.Status) (Name, bool) {
	switch status {
	case jobs.StatusQueued, jobs.StatusTranscribing:
		return Transcription, true
	case jobs.StatusDiarizing:
		return Diarization, true
	case jobs.StatusSynthesizing:
		return Synthesis, true
	default:
		return "", false
	}
}

// Input is everything an executor needs for one invocation.
type Input struct {
	JobID   string
	Input   jobs.Input
	Options jobs.Options
	// Prior is the output of the preceding stage, empty for transcription.
	Prior string
}

// Executor performs one stage's work. Implementations keep no state between
// calls and never touch the job store.
type Executor interface {
	Name() Name
	Execute(ctx context.Context, in Input) (string, error)
	HealthCheck(ctx context.Context) Health
}

package api

import (
	"errors"
	"fmt"
	"time"

	"medscribe/internal/jobs"
	"medscribe/internal/stage"
	"medscribe/internal/workflow"
)

// ErrResultNotReady is returned by ResultFromJob for jobs that have not
// succeeded.
var ErrResultNotReady = errors.New("result not available")

// FromJob converts a job record to its API representation.
func FromJob(job *jobs.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:              job.ID,
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		Version:         job.Version,
		Input: Input{
			Kind:     string(job.Input.Kind),
			Filename: job.Input.Filename,
		},
		Options: Options{
			Diarization: job.Options.Diarization,
			Model:       job.Options.Model,
			Template:    job.Options.Template,
			Language:    job.Options.Language,
		},
		Submitter: job.Submitter,
		CreatedAt: formatTime(job.CreatedAt),
		UpdatedAt: formatTime(job.UpdatedAt),
	}
	if job.Failure != nil {
		dto.Failure = &Failure{
			Stage:   string(job.Failure.Stage),
			Reason:  string(job.Failure.Reason),
			Message: job.Failure.Message,
		}
	}
	for _, tr := range job.History {
		dto.History = append(dto.History, Transition{
			Status:          string(tr.Status),
			ProgressPercent: tr.ProgressPercent,
			At:              formatTime(tr.At),
		})
	}
	return dto
}

// FromJobs converts a slice of job records.
func FromJobs(list []*jobs.Job) []Job {
	out := make([]Job, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job))
	}
	return out
}

// ResultFromJob extracts the outputs of a succeeded job.
func ResultFromJob(job *jobs.Job) (Result, error) {
	if job == nil {
		return Result{}, ErrResultNotReady
	}
	if job.Status != jobs.StatusSucceeded {
		return Result{}, fmt.Errorf("%w: job is %s", ErrResultNotReady, job.Status)
	}
	res := Result{JobID: job.ID}
	res.Note, _ = job.Output(string(stage.Synthesis))
	res.Transcript, _ = job.Output(string(stage.Transcription))
	res.SpeakerTranscript, _ = job.Output(string(stage.Diarization))
	return res, nil
}

// QueueFromStatus builds queue stats from a controller summary.
func QueueFromStatus(summary workflow.StatusSummary, subscribers int) QueueStats {
	counts := make(map[string]int, len(jobs.AllStatuses()))
	for _, status := range jobs.AllStatuses() {
		counts[string(status)] = summary.JobStats[status]
	}
	return QueueStats{
		Depth:       summary.QueueDepth,
		InFlight:    summary.InFlight,
		Subscribers: subscribers,
		Jobs:        counts,
	}
}

// ParseTime reads a timestamp produced by this package.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

package api

import (
	"errors"
	"testing"
	"time"

	"medscribe/internal/jobs"
	"medscribe/internal/workflow"
)

func TestFromJobOmitsInputText(t *testing.T) {
	job := jobs.New(jobs.Input{Kind: jobs.InputText, Text: "private transcript"}, jobs.Options{Model: "base", Template: "soap"}, "dr-lee")
	job.ID = "job-1"
	job.Version = 3
	job.Failure = &jobs.Failure{Stage: jobs.StatusSynthesizing, Reason: jobs.ReasonStageTimeout, Message: "slow"}

	dto := FromJob(job)
	if dto.ID != "job-1" || dto.Status != "queued" || dto.Version != 3 {
		t.Fatalf("unexpected dto: %+v", dto)
	}
	if dto.Input.Kind != "text" || dto.Input.Filename != "" {
		t.Fatalf("unexpected input: %+v", dto.Input)
	}
	if dto.Failure == nil || dto.Failure.Stage != "synthesizing" || dto.Failure.Reason != "stage_timeout" {
		t.Fatalf("unexpected failure: %+v", dto.Failure)
	}
	if len(dto.History) != 1 {
		t.Fatalf("history = %+v", dto.History)
	}
	if _, ok := ParseTime(dto.CreatedAt); !ok {
		t.Fatalf("created_at %q does not parse", dto.CreatedAt)
	}
}

func TestResultFromJob(t *testing.T) {
	job := jobs.New(jobs.Input{Kind: jobs.InputAudio, Ref: "uploads/a.wav"}, jobs.Options{}, "")
	if _, err := ResultFromJob(job); !errors.Is(err, ErrResultNotReady) {
		t.Fatalf("queued job err = %v", err)
	}

	job.Status = jobs.StatusSucceeded
	job.StageOutputs = map[string]string{
		"transcription": "hello",
		"diarization":   "Clinician: hello",
		"synthesis":     "S: greeting",
	}
	res, err := ResultFromJob(job)
	if err != nil {
		t.Fatalf("ResultFromJob: %v", err)
	}
	if res.Note != "S: greeting" || res.Transcript != "hello" || res.SpeakerTranscript != "Clinician: hello" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestQueueFromStatusFillsEveryStatus(t *testing.T) {
	summary := workflow.StatusSummary{
		JobStats:   map[jobs.Status]int{jobs.StatusQueued: 2},
		QueueDepth: 2,
		InFlight:   1,
	}
	stats := QueueFromStatus(summary, 4)
	if len(stats.Jobs) != len(jobs.AllStatuses()) || stats.Jobs["queued"] != 2 || stats.Jobs["failed"] != 0 {
		t.Fatalf("unexpected counts: %+v", stats.Jobs)
	}
	if stats.Depth != 2 || stats.InFlight != 1 || stats.Subscribers != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestParseTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 123000000, time.UTC)
	got, ok := ParseTime(formatTime(now))
	if !ok || !got.Equal(now) {
		t.Fatalf("ParseTime = %v %v", got, ok)
	}
}

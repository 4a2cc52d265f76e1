package stage

import (
	"testing"

	"medscribe/internal/jobs"
)

func TestBuildInputPrefersSpeakerTranscript(t *testing.T) {
	job := jobs.New(jobs.Input{Kind: jobs.InputAudio, Ref: "a.wav"}, jobs.Options{Diarization: true}, "")
	job.ID = "job-1"
	_ = job.RecordOutput(string(Transcription), "plain")

	in, err := BuildInput(job, Synthesis)
	if err != nil {
		t.Fatalf("BuildInput: %v", err)
	}
	if in.Prior != "plain" {
		t.Fatalf("expected plain transcript, got %q", in.Prior)
	}

	_ = job.RecordOutput(string(Diarization), "Clinician: plain")
	in, err = BuildInput(job, Synthesis)
	if err != nil {
		t.Fatalf("BuildInput: %v", err)
	}
	if in.Prior != "Clinician: plain" || in.JobID != "job-1" {
		t.Fatalf("unexpected input %#v", in)
	}
}

func TestBuildInputRequiresTranscript(t *testing.T) {
	job := jobs.New(jobs.Input{Kind: jobs.InputAudio, Ref: "a.wav"}, jobs.Options{}, "")
	if _, err := BuildInput(job, Diarization); err == nil {
		t.Fatal("expected error without transcript")
	}
	if _, err := BuildInput(job, Synthesis); err == nil {
		t.Fatal("expected error without transcript")
	}
	if _, err := BuildInput(job, Name("bogus")); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestForStatus(t *testing.T) {
	cases := map[jobs.Status]Name{
		jobs.StatusQueued:       Transcription,
		jobs.StatusTranscribing: Transcription,
		jobs.StatusDiarizing:    Diarization,
		jobs.StatusSynthesizing: Synthesis,
	}
	for status, want := range cases {
		got, ok := ForStatus(status)
		if !ok || got != want {
			t.Fatalf("ForStatus(%s) = %s, %v", status, got, ok)
		}
		if status != jobs.StatusQueued && want.Status() != status {
			t.Fatalf("%s.Status() = %s", want, want.Status())
		}
	}
	if _, ok := ForStatus(jobs.StatusSucceeded); ok {
		t.Fatal("terminal jobs expect no stage")
	}
}

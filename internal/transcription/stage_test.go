package transcription

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"medscribe/internal/artifacts"
	"medscribe/internal/jobs"
	"medscribe/internal/logging"
	"medscribe/internal/services"
	"medscribe/internal/services/whisper"
	"medscribe/internal/stage"
)

type fakeTranscriber struct {
	result  whisper.Result
	err     error
	source  string
	model   string
	content string
}

func (f *fakeTranscriber) Command() string { return "whisper" }

func (f *fakeTranscriber) TranscribeFile(_ context.Context, source, _ string, model string) (whisper.Result, error) {
	f.source = source
	f.model = model
	data, err := os.ReadFile(source)
	if err != nil {
		return whisper.Result{}, err
	}
	f.content = string(data)
	return f.result, f.err
}

func newStore(t *testing.T) *artifacts.FileStore {
	t.Helper()
	store, err := artifacts.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func putAudio(t *testing.T, store artifacts.Store, key string) {
	t.Helper()
	if _, err := store.Put(context.Background(), key, strings.NewReader("RIFFdata"), 0); err != nil {
		t.Fatalf("put audio: %v", err)
	}
}

func TestExecuteTextBypassReturnsTextVerbatim(t *testing.T) {
	fake := &fakeTranscriber{}
	st := NewStage(newStore(t), fake, "base", t.TempDir(), logging.NewNop())
	text := "  Patient reports a headache.\nNo fever. "
	got, err := st.Execute(context.Background(), stage.Input{JobID: "j1", Input: jobs.Input{Kind: jobs.InputText, Text: text}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != text {
		t.Fatalf("expected verbatim text, got %q", got)
	}
	if fake.source != "" {
		t.Fatal("text bypass must not invoke the model")
	}
}

func TestExecuteBlankTextIsValidationError(t *testing.T) {
	st := NewStage(newStore(t), &fakeTranscriber{}, "base", t.TempDir(), logging.NewNop())
	_, err := st.Execute(context.Background(), stage.Input{Input: jobs.Input{Kind: jobs.InputText, Text: "  "}})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestExecuteAudioTranscribesAndStoresSidecar(t *testing.T) {
	store := newStore(t)
	putAudio(t, store, "uploads/abc.wav")
	fake := &fakeTranscriber{result: whisper.Result{
		Text:     " Hello doctor. ",
		Language: "en",
		Segments: []whisper.Segment{{Start: 0, End: 1.2, Text: "Hello doctor."}},
	}}
	scratch := t.TempDir()
	st := NewStage(store, fake, "base", scratch, logging.NewNop())

	got, err := st.Execute(context.Background(), stage.Input{
		JobID:   "job-1",
		Input:   jobs.Input{Kind: jobs.InputAudio, Ref: "uploads/abc.wav", Filename: "visit.wav"},
		Options: jobs.Options{Model: "small"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "Hello doctor." {
		t.Fatalf("unexpected transcript %q", got)
	}
	if fake.model != "small" || fake.content != "RIFFdata" || filepath.Base(fake.source) != "abc.wav" {
		t.Fatalf("unexpected model call: model=%q source=%q content=%q", fake.model, fake.source, fake.content)
	}

	sidecar, err := LoadSidecar(context.Background(), store, "job-1")
	if err != nil {
		t.Fatalf("LoadSidecar: %v", err)
	}
	if sidecar.Language != "en" || len(sidecar.Segments) != 1 || sidecar.Segments[0].End != 1.2 {
		t.Fatalf("unexpected sidecar %#v", sidecar)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch dir cleaned up, found %d entries", len(entries))
	}
}

func TestExecuteAudioUsesDefaultModel(t *testing.T) {
	store := newStore(t)
	putAudio(t, store, "uploads/a.mp3")
	fake := &fakeTranscriber{result: whisper.Result{Text: "hi"}}
	st := NewStage(store, fake, "medium", t.TempDir(), logging.NewNop())
	if _, err := st.Execute(context.Background(), stage.Input{JobID: "j", Input: jobs.Input{Kind: jobs.InputAudio, Ref: "uploads/a.mp3"}}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fake.model != "medium" {
		t.Fatalf("expected default model, got %q", fake.model)
	}
	if _, err := LoadSidecar(context.Background(), store, "j"); !errors.Is(err, artifacts.ErrNotFound) {
		t.Fatalf("expected no sidecar without segments, got %v", err)
	}
}

func TestExecuteAudioErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		text   string
		marker error
	}{
		{name: "timeout", err: fmt.Errorf("whisper: %w", context.DeadlineExceeded), marker: services.ErrStageTimeout},
		{name: "missing command", err: fmt.Errorf("whisper: %w", &exec.Error{Name: "whisper", Err: exec.ErrNotFound}), marker: services.ErrStageUnavailable},
		{name: "crash", err: errors.New("exit status 1"), marker: services.ErrStageProcessing},
		{name: "no speech", text: "   ", marker: services.ErrStageProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			putAudio(t, store, "uploads/a.wav")
			fake := &fakeTranscriber{err: tt.err, result: whisper.Result{Text: tt.text}}
			st := NewStage(store, fake, "base", t.TempDir(), logging.NewNop())
			_, err := st.Execute(context.Background(), stage.Input{JobID: "j", Input: jobs.Input{Kind: jobs.InputAudio, Ref: "uploads/a.wav"}})
			if !errors.Is(err, tt.marker) {
				t.Fatalf("expected %v, got %v", tt.marker, err)
			}
		})
	}
}

func TestExecuteMissingUploadIsValidationError(t *testing.T) {
	st := NewStage(newStore(t), &fakeTranscriber{}, "base", t.TempDir(), logging.NewNop())
	_, err := st.Execute(context.Background(), stage.Input{JobID: "j", Input: jobs.Input{Kind: jobs.InputAudio, Ref: "uploads/missing.wav"}})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	st := NewStage(newStore(t), &fakeTranscriber{}, "base", "", logging.NewNop())
	st.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	if health := st.HealthCheck(context.Background()); health.Ready {
		t.Fatalf("expected unhealthy when command missing, got %#v", health)
	}
	st.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	if health := st.HealthCheck(context.Background()); !health.Ready || health.Name != "transcription" {
		t.Fatalf("expected healthy, got %#v", health)
	}
}

package testsupport

import (
	"context"
	"testing"

	"medscribe/internal/config"
	"medscribe/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewAudioJob creates a queued audio job referencing ref.
func NewAudioJob(t testing.TB, store *jobs.Store, ref string, diarization bool) *jobs.Job {
	t.Helper()

	job := jobs.New(
		jobs.Input{Kind: jobs.InputAudio, Ref: ref, Filename: "visit.wav"},
		jobs.Options{Diarization: diarization, Model: "base", Template: "soap"},
		"tester",
	)
	if _, err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}

// NewTextJob creates a queued job carrying inline transcript text.
func NewTextJob(t testing.TB, store *jobs.Store, text string) *jobs.Job {
	t.Helper()

	job := jobs.New(
		jobs.Input{Kind: jobs.InputText, Text: text},
		jobs.Options{Model: "base", Template: "soap"},
		"tester",
	)
	if _, err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}

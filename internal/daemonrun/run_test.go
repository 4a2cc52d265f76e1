package daemonrun_test

import (
	"context"
	"testing"

	"medscribe/internal/artifacts"
	"medscribe/internal/daemonrun"
	"medscribe/internal/logging"
	"medscribe/internal/stage"
	"medscribe/internal/testsupport"
)

func TestExecutorsCoverEveryStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := artifacts.NewFileStore(cfg.Artifacts.Dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	executors := daemonrun.Executors(cfg, store, logging.NewNop())
	got := make(map[stage.Name]bool, len(executors))
	for _, exec := range executors {
		got[exec.Name()] = true
	}
	for _, name := range stage.Names() {
		if !got[name] {
			t.Fatalf("missing executor for %s", name)
		}
	}
}

func TestBuildStartsAndStops(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemonrun.Build(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.Addr() == "" {
		t.Fatal("expected bound API address")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if d.Running() {
		t.Fatal("daemon still running after Close")
	}
}

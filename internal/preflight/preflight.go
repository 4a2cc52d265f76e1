package preflight

import (
	"context"

	"medscribe/internal/config"
)

// minFreeBytes is the free space below which the data directory check fails.
const minFreeBytes = 512 * 1024 * 1024

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckFreeSpace("Data directory space", cfg.Paths.DataDir, minFreeBytes),
	}
	if cfg.Artifacts.Backend == config.ArtifactBackendFile {
		results = append(results, CheckDirectoryAccess("Artifact directory", cfg.Artifacts.Dir))
	}
	if cfg.Diarization.Enabled {
		diarization := CheckDiarizer(ctx, cfg.Diarization)
		diarization.Optional = true
		results = append(results, diarization)
	}
	return results
}

// Passed reports whether every required result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return false
		}
	}
	return true
}

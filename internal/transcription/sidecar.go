package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"medscribe/internal/artifacts"
	"medscribe/internal/services/whisper"
)

// SidecarName is the artifact name of the timed segment sidecar.
const SidecarName = "segments.json"

// Sidecar is the persisted form of a transcription's timing data.
type Sidecar struct {
	Language string            `json:"language,omitempty"`
	Segments []whisper.Segment `json:"segments"`
}

// SaveSidecar writes the sidecar for jobID.
func SaveSidecar(ctx context.Context, store artifacts.Store, jobID string, sidecar Sidecar) error {
	data, err := json.Marshal(sidecar)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if _, err := store.Put(ctx, artifacts.JobKey(jobID, SidecarName), bytes.NewReader(data), 0); err != nil {
		return fmt.Errorf("store sidecar: %w", err)
	}
	return nil
}

// LoadSidecar reads the sidecar for jobID. It returns artifacts.ErrNotFound
// when transcription wrote none (text bypass or an older job).
func LoadSidecar(ctx context.Context, store artifacts.Store, jobID string) (Sidecar, error) {
	var sidecar Sidecar
	rc, err := store.Open(ctx, artifacts.JobKey(jobID, SidecarName))
	if err != nil {
		return sidecar, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return sidecar, fmt.Errorf("read sidecar: %w", err)
	}
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return sidecar, fmt.Errorf("decode sidecar: %w", err)
	}
	return sidecar, nil
}

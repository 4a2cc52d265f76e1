package diarization

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"medscribe/internal/artifacts"
	"medscribe/internal/jobs"
	"medscribe/internal/logging"
	"medscribe/internal/services"
	"medscribe/internal/services/diarizer"
	"medscribe/internal/stage"
	"medscribe/internal/transcription"
)

const stageName = "diarization"

// Diarizer is the subset of the diarization client used by the stage.
type Diarizer interface {
	Configured() bool
	Diarize(ctx context.Context, filename string, audio io.Reader) ([]diarizer.Turn, error)
	HealthCheck(ctx context.Context) error
}

// Stage is the diarization executor.
type Stage struct {
	enabled   bool
	client    Diarizer
	artifacts artifacts.Store
	logger    *slog.Logger
}

// NewStage constructs the diarization executor. A disabled stage always
// reports itself unavailable.
func NewStage(enabled bool, client Diarizer, store artifacts.Store, logger *slog.Logger) *Stage {
	return &Stage{
		enabled:   enabled,
		client:    client,
		artifacts: store,
		logger:    logging.NewComponentLogger(logger, "diarization"),
	}
}

// Name implements stage.Executor.
func (s *Stage) Name() stage.Name { return stage.Diarization }

// Available reports whether the stage can run at all.
func (s *Stage) Available() bool {
	return s != nil && s.enabled && s.client != nil && s.client.Configured()
}

// Execute returns the speaker-labeled transcript.
func (s *Stage) Execute(ctx context.Context, in stage.Input) (string, error) {
	if !s.Available() {
		return "", services.Wrap(services.ErrStageUnavailable, stageName, "execute", "Diarization is disabled or missing credentials", nil)
	}
	if in.Input.Kind != jobs.InputAudio {
		return "", services.Wrap(services.ErrStageUnavailable, stageName, "execute", "No audio to diarize", nil)
	}
	if s.artifacts == nil {
		return "", services.Wrap(services.ErrConfiguration, stageName, "execute", "Artifact store unavailable", nil)
	}
	logger := logging.WithContext(ctx, s.logger)
	started := time.Now()

	rc, err := s.artifacts.Open(ctx, in.Input.Ref)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return "", services.Wrap(services.ErrValidation, stageName, "fetch", "Uploaded audio no longer exists", err)
		}
		return "", services.Wrap(services.ErrStageProcessing, stageName, "fetch", "Read uploaded audio", err)
	}
	filename := in.Input.Filename
	if filename == "" {
		filename = in.Input.Ref
	}
	turns, err := s.client.Diarize(ctx, filename, rc)
	rc.Close()
	if err != nil {
		return "", classifyError(err)
	}
	if len(turns) == 0 {
		return "", services.Wrap(services.ErrStageProcessing, stageName, "diarize", "No speech turns detected", nil)
	}

	labels := RoleLabels(turns)
	lines, method := s.attribute(ctx, logger, in, turns, labels)
	output := Format(lines)
	if output == "" {
		return "", services.Wrap(services.ErrStageProcessing, stageName, "merge", "No transcript text could be attributed to speakers", nil)
	}

	logger.Info("diarization complete",
		logging.Int("turns", len(turns)),
		logging.Int("speakers", len(labels)),
		logging.String("alignment", method),
		logging.Duration("elapsed", time.Since(started)),
	)
	return output, nil
}

func (s *Stage) attribute(ctx context.Context, logger *slog.Logger, in stage.Input, turns []diarizer.Turn, labels map[string]string) ([]Line, string) {
	sidecar, err := transcription.LoadSidecar(ctx, s.artifacts, in.JobID)
	switch {
	case err == nil && len(sidecar.Segments) > 0:
		if lines := MergeSegments(turns, sidecar.Segments, labels); len(lines) > 0 {
			return lines, "segments"
		}
	case err != nil && !errors.Is(err, artifacts.ErrNotFound):
		logger.Warn("segment sidecar unreadable; splitting by duration",
			logging.Error(err),
			logging.String(logging.FieldEventType, "sidecar_read_failed"),
		)
	}
	return SplitByDuration(turns, in.Prior, labels), "duration"
}

func classifyError(err error) error {
	switch {
	case errors.Is(err, diarizer.ErrNotConfigured), errors.Is(err, diarizer.ErrUnavailable):
		return services.Wrap(services.ErrStageUnavailable, stageName, "diarize", "Diarization service unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrStageTimeout, stageName, "diarize", "Diarization exceeded the stage timeout", err)
	default:
		return services.Wrap(services.ErrStageProcessing, stageName, "diarize", "Diarization request failed", err)
	}
}

// HealthCheck reports diarization readiness. The stage is optional, so an
// unhealthy result never gates overall readiness.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	switch {
	case s == nil || !s.enabled:
		return stage.Unhealthy(stageName, "disabled").Optional()
	case s.client == nil || !s.client.Configured():
		return stage.Unhealthy(stageName, "missing base_url or hf_token").Optional()
	}
	if err := s.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error()).Optional()
	}
	return stage.Healthy(stageName).Optional()
}

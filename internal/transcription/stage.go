package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"strings"
	"time"

	"medscribe/internal/artifacts"
	"medscribe/internal/fileutil"
	"medscribe/internal/jobs"
	"medscribe/internal/logging"
	"medscribe/internal/services"
	"medscribe/internal/services/whisper"
	"medscribe/internal/stage"
)

const stageName = "transcription"

// Transcriber is the subset of the whisper service used by the stage.
type Transcriber interface {
	Command() string
	TranscribeFile(ctx context.Context, source, outputDir, model string) (whisper.Result, error)
}

// Stage is the transcription executor.
type Stage struct {
	artifacts    artifacts.Store
	transcriber  Transcriber
	defaultModel string
	scratchDir   string
	logger       *slog.Logger
	lookPath     func(string) (string, error)
}

// NewStage constructs the transcription executor. scratchDir holds the
// per-invocation working directories; empty uses the system temp dir.
func NewStage(store artifacts.Store, transcriber Transcriber, defaultModel, scratchDir string, logger *slog.Logger) *Stage {
	return &Stage{
		artifacts:    store,
		transcriber:  transcriber,
		defaultModel: strings.TrimSpace(defaultModel),
		scratchDir:   scratchDir,
		logger:       logging.NewComponentLogger(logger, "transcription"),
		lookPath:     exec.LookPath,
	}
}

// Name implements stage.Executor.
func (s *Stage) Name() stage.Name { return stage.Transcription }

// Execute returns the transcript for the job input.
func (s *Stage) Execute(ctx context.Context, in stage.Input) (string, error) {
	if s == nil || s.transcriber == nil {
		return "", services.Wrap(services.ErrConfiguration, stageName, "execute", "Transcription stage is not configured", nil)
	}
	switch in.Input.Kind {
	case jobs.InputText:
		if strings.TrimSpace(in.Input.Text) == "" {
			return "", services.Wrap(services.ErrValidation, stageName, "execute", "Inline text is empty", nil)
		}
		return in.Input.Text, nil
	case jobs.InputAudio:
		return s.transcribeAudio(ctx, in)
	default:
		return "", services.Wrap(services.ErrValidation, stageName, "execute", fmt.Sprintf("Unsupported input kind %q", in.Input.Kind), nil)
	}
}

func (s *Stage) transcribeAudio(ctx context.Context, in stage.Input) (string, error) {
	if s.artifacts == nil {
		return "", services.Wrap(services.ErrConfiguration, stageName, "execute", "Artifact store unavailable", nil)
	}
	logger := logging.WithContext(ctx, s.logger)
	started := time.Now()

	workDir, err := os.MkdirTemp(s.scratchDir, "transcribe-")
	if err != nil {
		return "", services.Wrap(services.ErrStageProcessing, stageName, "prepare", "Create scratch directory", err)
	}
	defer os.RemoveAll(workDir)

	rc, err := s.artifacts.Open(ctx, in.Input.Ref)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return "", services.Wrap(services.ErrValidation, stageName, "fetch", "Uploaded audio no longer exists", err)
		}
		return "", services.Wrap(services.ErrStageProcessing, stageName, "fetch", "Read uploaded audio", err)
	}
	source, err := fileutil.CopyToDir(workDir, path.Base(in.Input.Ref), rc)
	rc.Close()
	if err != nil {
		return "", services.Wrap(services.ErrStageProcessing, stageName, "fetch", "Copy audio to scratch directory", err)
	}

	model := strings.TrimSpace(in.Options.Model)
	if model == "" {
		model = s.defaultModel
	}
	result, err := s.transcriber.TranscribeFile(ctx, source, workDir, model)
	if err != nil {
		return "", classifyRunError(err)
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", services.Wrap(services.ErrStageProcessing, stageName, "transcribe", "Model produced no speech", nil)
	}

	if len(result.Segments) > 0 {
		if err := SaveSidecar(ctx, s.artifacts, in.JobID, Sidecar{Language: result.Language, Segments: result.Segments}); err != nil {
			logging.WarnWithContext(logger, "segment sidecar not stored", "sidecar_write_failed",
				logging.Error(err),
				logging.String("impact", "diarization will split words by turn duration"),
			)
		}
	}

	logger.Info("transcription complete",
		logging.String("model", model),
		logging.String("language", result.Language),
		logging.Int("segments", len(result.Segments)),
		logging.Int("chars", len(text)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return text, nil
}

func classifyRunError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrStageTimeout, stageName, "transcribe", "Model run exceeded the stage timeout", err)
	case errors.Is(err, exec.ErrNotFound):
		return services.Wrap(services.ErrStageUnavailable, stageName, "transcribe", "Transcription command not found", err)
	default:
		return services.Wrap(services.ErrStageProcessing, stageName, "transcribe", "Model run failed", err)
	}
}

// HealthCheck verifies the transcription command is installed.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s == nil || s.transcriber == nil {
		return stage.Unhealthy(stageName, "stage not configured")
	}
	command := s.transcriber.Command()
	if _, err := s.lookPath(command); err != nil {
		return stage.Unhealthy(stageName, fmt.Sprintf("command %q not found", command))
	}
	return stage.Healthy(stageName)
}

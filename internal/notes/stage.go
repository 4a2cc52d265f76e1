package notes

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"medscribe/internal/logging"
	"medscribe/internal/services"
	"medscribe/internal/services/llm"
	"medscribe/internal/stage"
)

const stageName = "synthesis"

// Completer is the subset of the LLM client used by the stage.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	HealthCheck(ctx context.Context) error
	Model() string
}

// Stage is the note synthesis executor.
type Stage struct {
	client          Completer
	defaultTemplate string
	logger          *slog.Logger
}

// NewStage constructs the synthesis executor.
func NewStage(client Completer, defaultTemplate string, logger *slog.Logger) *Stage {
	if strings.TrimSpace(defaultTemplate) == "" {
		defaultTemplate = TemplateSOAP
	}
	return &Stage{
		client:          client,
		defaultTemplate: defaultTemplate,
		logger:          logging.NewComponentLogger(logger, "notes"),
	}
}

// Name implements stage.Executor.
func (s *Stage) Name() stage.Name { return stage.Synthesis }

// Execute generates the note for the transcript in in.Prior.
func (s *Stage) Execute(ctx context.Context, in stage.Input) (string, error) {
	if s == nil || s.client == nil {
		return "", services.Wrap(services.ErrConfiguration, stageName, "execute", "Note synthesis is not configured", nil)
	}
	if strings.TrimSpace(in.Prior) == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "execute", "Transcript is empty", nil)
	}
	template := in.Options.Template
	if template == "" {
		template = s.defaultTemplate
	}
	system, user, err := BuildPrompts(template, in.Options.Language, in.Prior)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stageName, "prompt", "Build prompt", err)
	}

	logger := logging.WithContext(ctx, s.logger)
	started := time.Now()
	note, err := s.client.Complete(ctx, system, user)
	if err != nil {
		return "", classifyError(err)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return "", services.Wrap(services.ErrStageProcessing, stageName, "generate", "Model returned an empty note", nil)
	}
	logger.Info("note generated",
		logging.String("model", s.client.Model()),
		logging.String("template", template),
		logging.Int("chars", len(note)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return note, nil
}

func classifyError(err error) error {
	switch {
	case llm.IsUnreachable(err):
		return services.Wrap(services.ErrStageUnavailable, stageName, "generate", "Language model endpoint unreachable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrStageTimeout, stageName, "generate", "Note generation exceeded the stage timeout", err)
	case errors.Is(err, llm.ErrEmptyContent):
		return services.Wrap(services.ErrStageProcessing, stageName, "generate", "Model returned an empty note", err)
	default:
		return services.Wrap(services.ErrStageProcessing, stageName, "generate", "Note generation failed", err)
	}
}

// HealthCheck verifies the model endpoint answers.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s == nil || s.client == nil {
		return stage.Unhealthy(stageName, "stage not configured")
	}
	if err := s.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}

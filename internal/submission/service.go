package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"

	"medscribe/internal/artifacts"
	"medscribe/internal/config"
	"medscribe/internal/fileutil"
	"medscribe/internal/jobs"
	"medscribe/internal/logging"
	"medscribe/internal/services"
)

// DefaultSubmitter identifies requests that carry no submitter.
const DefaultSubmitter = "anonymous"

// ErrUploadTooLarge marks an upload rejected for exceeding the size limit.
var ErrUploadTooLarge = fmt.Errorf("%w: upload too large", services.ErrValidation)

// Options are the caller supplied job options. Empty fields take the
// configured defaults.
type Options struct {
	Diarization *bool
	Model       string
	Template    string
	Language    string
}

// Request is one job submission. Exactly one of AudioRef and Text is set.
type Request struct {
	AudioRef  string
	Filename  string
	Text      string
	Options   Options
	Submitter string
}

// Upload describes stored audio.
type Upload struct {
	Ref      string
	Filename string
	Size     int64
}

// Dispatcher starts the pipeline for a created job.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *jobs.Job) (*jobs.Job, error)
}

// Service accepts submissions.
type Service struct {
	cfg        *config.Config
	store      *jobs.Store
	artifacts  artifacts.Store
	dispatcher Dispatcher
	validator  *Validator
	logger     *slog.Logger
}

// NewService constructs a submission service.
func NewService(cfg *config.Config, store *jobs.Store, artifactStore artifacts.Store, dispatcher Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		store:      store,
		artifacts:  artifactStore,
		dispatcher: dispatcher,
		validator:  NewValidator(config.ModelTiers(), config.NoteTemplates(), cfg.Artifacts.AllowedFormats),
		logger:     logging.NewComponentLogger(logger, "submission"),
	}
}

// MaxUploadBytes returns the configured upload ceiling.
func (s *Service) MaxUploadBytes() int64 {
	return int64(s.cfg.Artifacts.MaxUploadMB) * 1024 * 1024
}

// Submit validates req, creates the job and dispatches it. When dispatch
// fails the created job is returned alongside the error; it has already been
// marked failed.
func (s *Service) Submit(ctx context.Context, req Request) (*jobs.Job, error) {
	input, opts, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	if input.Kind == jobs.InputAudio {
		if err := s.ensureUpload(ctx, input.Ref); err != nil {
			return nil, err
		}
	}

	submitter := strings.TrimSpace(req.Submitter)
	if submitter == "" {
		submitter = DefaultSubmitter
	}
	job := jobs.New(input, opts, submitter)
	if _, err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("job submitted",
		logging.String("input", string(input.Kind)),
		logging.String("submitter", submitter),
		logging.String("model", opts.Model),
		logging.String("template", opts.Template),
		logging.Bool("diarization", opts.Diarization),
	)

	dispatched, err := s.dispatcher.Dispatch(ctx, job)
	if err != nil {
		if dispatched == nil {
			dispatched = job
		}
		return dispatched, err
	}
	return dispatched, nil
}

func (s *Service) normalize(req Request) (jobs.Input, jobs.Options, error) {
	opts := jobs.Options{
		Diarization: true,
		Model:       strings.ToLower(strings.TrimSpace(req.Options.Model)),
		Template:    strings.ToLower(strings.TrimSpace(req.Options.Template)),
		Language:    strings.TrimSpace(req.Options.Language),
	}
	if req.Options.Diarization != nil {
		opts.Diarization = *req.Options.Diarization
	}
	if opts.Model == "" {
		opts.Model = s.cfg.Transcription.DefaultModel
	}
	if opts.Template == "" {
		opts.Template = s.cfg.LLM.DefaultTemplate
	}

	ref := strings.TrimSpace(req.AudioRef)
	input := jobs.Input{Kind: jobs.InputText, Text: req.Text}
	if ref != "" {
		input = jobs.Input{Kind: jobs.InputAudio, Ref: ref, Filename: strings.TrimSpace(req.Filename)}
	}
	err := s.validator.check(candidate{
		Kind:     input.Kind,
		Ref:      ref,
		Text:     req.Text,
		Model:    opts.Model,
		Template: opts.Template,
		Language: opts.Language,
	})
	if err != nil {
		return jobs.Input{}, jobs.Options{}, err
	}
	if opts.Language != "" {
		opts.Language = language.Make(opts.Language).String()
	}
	return input, opts, nil
}

func (s *Service) ensureUpload(ctx context.Context, ref string) error {
	rc, err := s.artifacts.Open(ctx, ref)
	if errors.Is(err, artifacts.ErrNotFound) {
		return invalid("audio", "upload not found")
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "submission", "open upload", "Artifact store unavailable", err)
	}
	return rc.Close()
}

// StoreUpload streams an uploaded file into the artifact store after
// checking its format. Content beyond the size limit is rejected and
// nothing is kept.
func (s *Service) StoreUpload(ctx context.Context, filename string, r io.Reader) (Upload, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return Upload{}, invalid("audio", "missing filename")
	}
	if !formatAllowed(s.cfg.Artifacts.AllowedFormats, filename) {
		return Upload{}, invalid("audio", fmt.Sprintf("unsupported audio format (allowed: %s)", strings.Join(s.cfg.Artifacts.AllowedFormats, ", ")))
	}
	key := artifacts.UploadKey(filename)
	limit := s.MaxUploadBytes()
	size, err := s.artifacts.Put(ctx, key, r, limit)
	if errors.Is(err, fileutil.ErrTooLarge) {
		return Upload{}, fmt.Errorf("%w: limit is %s", ErrUploadTooLarge, humanize.IBytes(uint64(limit)))
	}
	if err != nil {
		return Upload{}, services.Wrap(services.ErrTransient, "submission", "store upload", "Failed to store audio", err)
	}
	if size == 0 {
		_ = s.artifacts.Delete(ctx, key)
		return Upload{}, invalid("audio", "upload is empty")
	}
	s.logger.Debug("upload stored",
		logging.String("ref", key),
		logging.String("size", humanize.IBytes(uint64(size))),
	)
	return Upload{Ref: key, Filename: filename, Size: size}, nil
}

// Discard removes an upload that did not become a job.
func (s *Service) Discard(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	if err := s.artifacts.Delete(ctx, ref); err != nil && !errors.Is(err, artifacts.ErrNotFound) {
		s.logger.Warn("failed to remove orphaned upload", logging.String("ref", ref), logging.Error(err))
	}
}

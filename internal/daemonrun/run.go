// Package daemonrun assembles the daemon's components from configuration
// and runs it until the process is signalled.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"medscribe/internal/artifacts"
	"medscribe/internal/config"
	"medscribe/internal/daemon"
	"medscribe/internal/deps"
	"medscribe/internal/diarization"
	"medscribe/internal/jobs"
	"medscribe/internal/logging"
	"medscribe/internal/metrics"
	"medscribe/internal/notes"
	"medscribe/internal/progress"
	"medscribe/internal/services/diarizer"
	"medscribe/internal/services/llm"
	"medscribe/internal/services/whisper"
	"medscribe/internal/stage"
	"medscribe/internal/submission"
	"medscribe/internal/taskqueue"
	"medscribe/internal/transcription"
	"medscribe/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the daemon and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "medscribed.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := Build(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed", logging.Error(err))
		return err
	}

	<-signalCtx.Done()
	logger.Info("medscribe daemon shutting down")
	return nil
}

// Build wires the job store, artifact store, executors, controller and API
// into a daemon that has not been started.
func Build(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	store, err := jobs.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return nil, err
	}
	artifactStore, err := artifacts.Open(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	m := metrics.New()
	queue := taskqueue.NewQueue(cfg.Workers.QueueCapacity)
	broadcaster := progress.NewBroadcaster(store, cfg.Progress.SubscriberBuffer, logger)
	manager := workflow.NewManager(cfg, store, queue, Executors(cfg, artifactStore, logger), broadcaster, logger,
		workflow.WithObserver(m),
		workflow.WithPoolOptions(taskqueue.WithObserver(m)),
	)
	m.RegisterGauges(metrics.Gauges{
		QueueDepth:    queue.Depth,
		InFlight:      queue.InFlight,
		Subscribers:   broadcaster.Total,
		DroppedEvents: broadcaster.Dropped,
	})
	svc := submission.NewService(cfg, store, artifactStore, manager, logger)

	d, err := daemon.New(daemon.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Artifacts:   artifactStore,
		Workflow:    manager,
		Broadcaster: broadcaster,
		Submission:  svc,
		Metrics:     m,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

// Executors builds the three stage executors from configuration.
func Executors(cfg *config.Config, store artifacts.Store, logger *slog.Logger) []stage.Executor {
	transcriber := whisper.NewService(whisper.Config{
		Command:  cfg.Transcription.Command,
		Device:   cfg.Transcription.Device,
		Language: cfg.Transcription.Language,
	})
	scratch := filepath.Join(cfg.Paths.DataDir, "scratch")

	diarizerTimeout := time.Duration(cfg.Diarization.TimeoutSeconds) * time.Second
	diarizerClient := diarizer.NewClient(diarizer.Config{
		BaseURL:     cfg.Diarization.BaseURL,
		Token:       cfg.Diarization.HFToken,
		MinSpeakers: cfg.Diarization.MinSpeakers,
		MaxSpeakers: cfg.Diarization.MaxSpeakers,
	}, &http.Client{Timeout: diarizerTimeout})

	completer := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Temperature:    cfg.LLM.Temperature,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})

	return []stage.Executor{
		transcription.NewStage(store, transcriber, cfg.Transcription.DefaultModel, scratch, logger),
		diarization.NewStage(cfg.DiarizationAvailable(), diarizerClient, store, logger),
		notes.NewStage(completer, cfg.LLM.DefaultTemplate, logger),
	}
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "medscribed.log")},
		Development: opts.Development,
	})
}

func writePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	statuses := deps.CheckBinaries([]deps.Requirement{{
		Name:    "Whisper",
		Command: cfg.Transcription.Command,
	}})
	whisperStatus := statuses[0]
	ffmpegStatus := deps.CheckFFmpegForWhisper(cfg.Transcription.Command)
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("whisper_available", whisperStatus.Available),
		logging.String("whisper_command", whisperStatus.Command),
		logging.Bool("ffmpeg_available", ffmpegStatus.Available),
		logging.String("ffmpeg_command", ffmpegStatus.Command),
		logging.Bool("diarization_enabled", cfg.DiarizationAvailable()),
		logging.String("llm_model", cfg.LLM.Model),
		logging.String("store_driver", cfg.Store.Driver),
		logging.String("artifact_backend", cfg.Artifacts.Backend),
	)
	if missing := deps.Missing(statuses); len(missing) > 0 {
		logging.WarnWithContext(logger, "transcription binaries missing", "dependency_missing",
			logging.Int("missing", len(missing)))
	}
}

package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Paths.SubmitRateLimit < 0 {
		return errors.New("paths.submit_rate_limit must be zero (disabled) or positive")
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateArtifacts(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case StoreDriverSQLite:
		return nil
	case StoreDriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver (or set MEDSCRIBE_STORE_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("store.driver: unsupported value %q (expected sqlite or postgres)", c.Store.Driver)
	}
}

func (c *Config) validateArtifacts() error {
	switch c.Artifacts.Backend {
	case ArtifactBackendFile:
		if c.Artifacts.Dir == "" {
			return errors.New("artifacts.dir must be set for the file backend")
		}
	case ArtifactBackendS3:
		if c.Artifacts.S3Endpoint == "" || c.Artifacts.S3Bucket == "" {
			return errors.New("artifacts.s3_endpoint and artifacts.s3_bucket are required for the s3 backend")
		}
	default:
		return fmt.Errorf("artifacts.backend: unsupported value %q (expected file or s3)", c.Artifacts.Backend)
	}
	return nil
}

func (c *Config) validateStages() error {
	if !slices.Contains(modelTiers, c.Transcription.DefaultModel) {
		return fmt.Errorf("transcription.default_model: unsupported tier %q (expected one of %v)", c.Transcription.DefaultModel, modelTiers)
	}
	if !slices.Contains(noteTemplates, c.LLM.DefaultTemplate) {
		return fmt.Errorf("llm.default_template: unsupported variant %q (expected one of %v)", c.LLM.DefaultTemplate, noteTemplates)
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model must be set")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	if c.Diarization.MinSpeakers < 0 || c.Diarization.MaxSpeakers < 0 {
		return errors.New("diarization speaker bounds must be non-negative")
	}
	if c.Diarization.MaxSpeakers > 0 && c.Diarization.MinSpeakers > c.Diarization.MaxSpeakers {
		return errors.New("diarization.min_speakers must not exceed diarization.max_speakers")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	policies := map[string]RetryPolicy{
		"retry.transcription": c.Retry.Transcription,
		"retry.diarization":   c.Retry.Diarization,
		"retry.synthesis":     c.Retry.Synthesis,
	}
	for name, policy := range policies {
		if policy.InitialBackoffSeconds < 0 || policy.MaxBackoffSeconds < 0 {
			return fmt.Errorf("%s: backoff values must be non-negative", name)
		}
		if policy.MaxBackoffSeconds > 0 && policy.InitialBackoffSeconds > policy.MaxBackoffSeconds {
			return fmt.Errorf("%s.initial_backoff_seconds must not exceed max_backoff_seconds", name)
		}
	}
	if c.Retention.JobTTLHours <= 0 {
		return errors.New("retention.job_ttl_hours must be positive")
	}
	if c.Retention.SweepIntervalMinutes <= 0 {
		return errors.New("retention.sweep_interval_minutes must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

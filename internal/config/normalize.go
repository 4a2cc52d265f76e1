package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeArtifacts()
	c.normalizeStages()
	c.normalizeWorkers()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Artifacts.Dir, err = expandPath(c.Artifacts.Dir); err != nil {
		return fmt.Errorf("artifacts.dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.SubmitRateWindowSeconds <= 0 {
		c.Paths.SubmitRateWindowSeconds = defaultSubmitRateWindow
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.MaxConns <= 0 {
		c.Store.MaxConns = defaultStoreMaxConns
	}
}

func (c *Config) normalizeArtifacts() {
	c.Artifacts.Backend = strings.ToLower(strings.TrimSpace(c.Artifacts.Backend))
	if c.Artifacts.Backend == "" {
		c.Artifacts.Backend = defaultArtifactBackend
	}
	c.Artifacts.S3Endpoint = strings.TrimSpace(c.Artifacts.S3Endpoint)
	c.Artifacts.S3Bucket = strings.TrimSpace(c.Artifacts.S3Bucket)
	if c.Artifacts.MaxUploadMB <= 0 {
		c.Artifacts.MaxUploadMB = defaultMaxUploadMB
	}
	formats := make([]string, 0, len(c.Artifacts.AllowedFormats))
	for _, format := range c.Artifacts.AllowedFormats {
		format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
		if format != "" {
			formats = append(formats, format)
		}
	}
	if len(formats) == 0 {
		formats = append(formats, defaultFormats...)
	}
	c.Artifacts.AllowedFormats = formats
}

func (c *Config) normalizeStages() {
	c.Transcription.Command = strings.TrimSpace(c.Transcription.Command)
	if c.Transcription.Command == "" {
		c.Transcription.Command = defaultTranscriptionCommand
	}
	c.Transcription.DefaultModel = strings.ToLower(strings.TrimSpace(c.Transcription.DefaultModel))
	if c.Transcription.DefaultModel == "" {
		c.Transcription.DefaultModel = defaultTranscriptionModel
	}
	c.Diarization.BaseURL = strings.TrimRight(strings.TrimSpace(c.Diarization.BaseURL), "/")
	c.Diarization.HFToken = strings.TrimSpace(c.Diarization.HFToken)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.LLM.DefaultTemplate = strings.ToLower(strings.TrimSpace(c.LLM.DefaultTemplate))
	if c.LLM.DefaultTemplate == "" {
		c.LLM.DefaultTemplate = defaultNoteTemplate
	}
}

func (c *Config) normalizeWorkers() {
	if c.Workers.Count <= 0 {
		c.Workers.Count = defaultWorkerCount
	}
	if c.Workers.QueueCapacity <= 0 {
		c.Workers.QueueCapacity = defaultQueueCapacity
	}
	if c.Workers.LeaseGraceSeconds <= 0 {
		c.Workers.LeaseGraceSeconds = defaultLeaseGraceSeconds
	}
	if c.Progress.SubscriberBuffer <= 0 {
		c.Progress.SubscriberBuffer = defaultSubscriberBuffer
	}
	for _, policy := range []*RetryPolicy{&c.Retry.Transcription, &c.Retry.Diarization, &c.Retry.Synthesis} {
		if policy.MaxAttempts <= 0 {
			policy.MaxAttempts = 1
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

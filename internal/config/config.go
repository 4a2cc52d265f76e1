package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir                 string `toml:"data_dir"`
	LogDir                  string `toml:"log_dir"`
	APIBind                 string `toml:"api_bind"`
	APIToken                string `toml:"api_token"`
	SubmitRateLimit         int    `toml:"submit_rate_limit"`
	SubmitRateWindowSeconds int    `toml:"submit_rate_window_seconds"`
}

// Store selects the job store backend.
type Store struct {
	Driver   string `toml:"driver"`
	DSN      string `toml:"dsn"`
	MaxConns int    `toml:"max_conns"`
}

// Artifacts configures where uploaded audio and stage sidecars live.
type Artifacts struct {
	Backend        string   `toml:"backend"`
	Dir            string   `toml:"dir"`
	S3Endpoint     string   `toml:"s3_endpoint"`
	S3Bucket       string   `toml:"s3_bucket"`
	S3AccessKey    string   `toml:"s3_access_key"`
	S3SecretKey    string   `toml:"s3_secret_key"`
	S3UseSSL       bool     `toml:"s3_use_ssl"`
	MaxUploadMB    int      `toml:"max_upload_mb"`
	AllowedFormats []string `toml:"allowed_formats"`
}

// Transcription configures the speech-to-text runner.
type Transcription struct {
	Command        string `toml:"command"`
	DefaultModel   string `toml:"default_model"`
	Device         string `toml:"device"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Diarization configures the speaker diarization service.
type Diarization struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	HFToken        string `toml:"hf_token"`
	MinSpeakers    int    `toml:"min_speakers"`
	MaxSpeakers    int    `toml:"max_speakers"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LLM contains the note synthesis connection settings.
type LLM struct {
	BaseURL         string  `toml:"base_url"`
	APIKey          string  `toml:"api_key"`
	Model           string  `toml:"model"`
	Temperature     float64 `toml:"temperature"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	DefaultTemplate string  `toml:"default_template"`
}

// Workers sizes the stage worker pool.
type Workers struct {
	Count             int `toml:"count"`
	QueueCapacity     int `toml:"queue_capacity"`
	LeaseGraceSeconds int `toml:"lease_grace_seconds"`
}

// RetryPolicy bounds redelivery for one stage type.
type RetryPolicy struct {
	MaxAttempts           int `toml:"max_attempts"`
	InitialBackoffSeconds int `toml:"initial_backoff_seconds"`
	MaxBackoffSeconds     int `toml:"max_backoff_seconds"`
}

// InitialBackoff returns the first retry delay.
func (p RetryPolicy) InitialBackoff() time.Duration {
	return time.Duration(p.InitialBackoffSeconds) * time.Second
}

// MaxBackoff returns the retry delay ceiling.
func (p RetryPolicy) MaxBackoff() time.Duration {
	return time.Duration(p.MaxBackoffSeconds) * time.Second
}

// Retry holds the per-stage retry policies.
type Retry struct {
	Transcription RetryPolicy `toml:"transcription"`
	Diarization   RetryPolicy `toml:"diarization"`
	Synthesis     RetryPolicy `toml:"synthesis"`
}

// Retention controls how long terminal jobs are kept.
type Retention struct {
	JobTTLHours          int `toml:"job_ttl_hours"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
}

// Progress tunes the live status broadcaster.
type Progress struct {
	SubscriberBuffer int `toml:"subscriber_buffer"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for MedScribe.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Store: job store driver (sqlite or postgres)
//   - Artifacts: upload storage (filesystem or S3) and upload limits
//   - Transcription, Diarization, LLM: stage executor backends
//   - Workers, Retry: worker pool sizing and per-stage redelivery policy
//   - Retention: terminal job TTL and sweep cadence
//   - Progress: subscriber buffering
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Artifacts     Artifacts     `toml:"artifacts"`
	Transcription Transcription `toml:"transcription"`
	Diarization   Diarization   `toml:"diarization"`
	LLM           LLM           `toml:"llm"`
	Workers       Workers       `toml:"workers"`
	Retry         Retry         `toml:"retry"`
	Retention     Retention     `toml:"retention"`
	Progress      Progress      `toml:"progress"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/medscribe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("medscribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Artifacts.Backend == ArtifactBackendFile {
		dirs = append(dirs, c.Artifacts.Dir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SQLitePath returns the job database location used by the sqlite driver.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// RetryFor returns the retry policy for the named stage.
func (c *Config) RetryFor(stage string) RetryPolicy {
	switch stage {
	case "transcription":
		return c.Retry.Transcription
	case "diarization":
		return c.Retry.Diarization
	case "synthesis":
		return c.Retry.Synthesis
	default:
		return RetryPolicy{MaxAttempts: 1}
	}
}

// SubmitRateWindow returns the window over which submit_rate_limit applies.
func (c *Config) SubmitRateWindow() time.Duration {
	return time.Duration(c.Paths.SubmitRateWindowSeconds) * time.Second
}

// StageTimeout returns the execution budget for one attempt of the named stage.
func (c *Config) StageTimeout(stage string) time.Duration {
	var seconds int
	switch stage {
	case "transcription":
		seconds = c.Transcription.TimeoutSeconds
	case "diarization":
		seconds = c.Diarization.TimeoutSeconds
	case "synthesis":
		seconds = c.LLM.TimeoutSeconds
	}
	if seconds <= 0 {
		seconds = defaultStageTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// JobTTL returns how long terminal jobs remain queryable.
func (c *Config) JobTTL() time.Duration {
	return time.Duration(c.Retention.JobTTLHours) * time.Hour
}

// SweepInterval returns the retention sweeper cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Retention.SweepIntervalMinutes) * time.Minute
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Artifacts.MaxUploadMB) * 1024 * 1024
}

// DiarizationAvailable reports whether the diarization stage can run at all.
func (c *Config) DiarizationAvailable() bool {
	return c.Diarization.Enabled &&
		strings.TrimSpace(c.Diarization.BaseURL) != "" &&
		strings.TrimSpace(c.Diarization.HFToken) != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"medscribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retries are fast and diarization is disabled unless an option enables it.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Paths.SubmitRateLimit = 0
	cfgVal.Artifacts.Dir = filepath.Join(base, "artifacts")
	cfgVal.Diarization.Enabled = false
	fast := config.RetryPolicy{MaxAttempts: 3, InitialBackoffSeconds: 0, MaxBackoffSeconds: 0}
	cfgVal.Retry = config.Retry{Transcription: fast, Diarization: fast, Synthesis: fast}
	cfgVal.Workers.Count = 2
	cfgVal.Workers.QueueCapacity = 16
	cfgVal.Workers.LeaseGraceSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDiarization enables the diarization stage against the given service.
func WithDiarization(baseURL, token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Diarization.Enabled = true
		b.cfg.Diarization.BaseURL = baseURL
		b.cfg.Diarization.HFToken = token
	}
}

// WithLLM points note synthesis at the given chat-completion endpoint.
func WithLLM(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = baseURL
	}
}

// WithRetry sets the same retry policy for every stage.
func WithRetry(policy config.RetryPolicy) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retry = config.Retry{Transcription: policy, Diarization: policy, Synthesis: policy}
	}
}

// WithQueueCapacity bounds how many requests the task queue admits.
func WithQueueCapacity(capacity int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.QueueCapacity = capacity
	}
}

// WithSubmitRateLimit limits submissions per client within window.
func WithSubmitRateLimit(limit int, window time.Duration) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.SubmitRateLimit = limit
		b.cfg.Paths.SubmitRateWindowSeconds = int(window / time.Second)
	}
}

// WithAPIToken requires bearer authentication on the test API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the transcription command is
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{b.cfg.Transcription.Command}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

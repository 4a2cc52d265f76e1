package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides lists the settings that may be supplied through MEDSCRIBE_*
// environment variables. Non-empty values replace file settings.
type envOverrides struct {
	APIToken    string `envconfig:"API_TOKEN"`
	StoreDriver string `envconfig:"STORE_DRIVER"`
	StoreDSN    string `envconfig:"STORE_DSN"`
	LLMAPIKey   string `envconfig:"LLM_API_KEY"`
	LLMBaseURL  string `envconfig:"LLM_BASE_URL"`
	HFToken     string `envconfig:"HF_TOKEN"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

const envPrefix = "medscribe"

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	override(&c.Paths.APIToken, env.APIToken)
	override(&c.Store.Driver, env.StoreDriver)
	override(&c.Store.DSN, env.StoreDSN)
	override(&c.LLM.APIKey, env.LLMAPIKey)
	override(&c.LLM.BaseURL, env.LLMBaseURL)
	override(&c.Diarization.HFToken, env.HFToken)
	override(&c.Artifacts.S3AccessKey, env.S3AccessKey)
	override(&c.Artifacts.S3SecretKey, env.S3SecretKey)
	override(&c.Logging.Level, env.LogLevel)
	return nil
}

func override(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

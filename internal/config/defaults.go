package config

const (
	defaultDataDir                = "~/.local/share/medscribe"
	defaultLogDir                 = "~/.local/share/medscribe/logs"
	defaultArtifactsDir           = "~/.local/share/medscribe/artifacts"
	defaultAPIBind                = "127.0.0.1:7830"
	defaultSubmitRateLimit        = 10
	defaultSubmitRateWindow       = 60
	defaultStoreDriver            = StoreDriverSQLite
	defaultStoreMaxConns          = 10
	defaultArtifactBackend        = ArtifactBackendFile
	defaultMaxUploadMB            = 100
	defaultTranscriptionCommand   = "whisper"
	defaultTranscriptionModel     = "base"
	defaultTranscriptionDevice    = "cpu"
	defaultTranscriptionTimeout   = 1800
	defaultDiarizationTimeout     = 900
	defaultDiarizationMinSpeakers = 2
	defaultDiarizationMaxSpeakers = 2
	defaultLLMBaseURL             = "http://localhost:11434/v1/chat/completions"
	defaultLLMModel               = "llama3.2"
	defaultLLMTemperature         = 0.1
	defaultLLMTimeout             = 300
	defaultNoteTemplate           = "soap"
	defaultWorkerCount            = 2
	defaultQueueCapacity          = 256
	defaultLeaseGraceSeconds      = 60
	defaultJobTTLHours            = 24
	defaultSweepIntervalMinutes   = 15
	defaultSubscriberBuffer       = 32
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultStageTimeoutSeconds    = 600
)

// Supported backend identifiers.
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"

	ArtifactBackendFile = "file"
	ArtifactBackendS3   = "s3"
)

var (
	modelTiers       = []string{"tiny", "base", "small", "medium", "large"}
	noteTemplates    = []string{"soap", "soap_cot"}
	defaultFormats   = []string{"mp3", "wav", "m4a", "ogg", "flac", "webm"}
	defaultRetryOpts = RetryPolicy{MaxAttempts: 3, InitialBackoffSeconds: 2, MaxBackoffSeconds: 60}
)

// ModelTiers lists the recognized transcription model tiers.
func ModelTiers() []string {
	return append([]string(nil), modelTiers...)
}

// NoteTemplates lists the recognized note template variants.
func NoteTemplates() []string {
	return append([]string(nil), noteTemplates...)
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:                 defaultDataDir,
			LogDir:                  defaultLogDir,
			APIBind:                 defaultAPIBind,
			SubmitRateLimit:         defaultSubmitRateLimit,
			SubmitRateWindowSeconds: defaultSubmitRateWindow,
		},
		Store: Store{
			Driver:   defaultStoreDriver,
			MaxConns: defaultStoreMaxConns,
		},
		Artifacts: Artifacts{
			Backend:        defaultArtifactBackend,
			Dir:            defaultArtifactsDir,
			MaxUploadMB:    defaultMaxUploadMB,
			AllowedFormats: append([]string(nil), defaultFormats...),
		},
		Transcription: Transcription{
			Command:        defaultTranscriptionCommand,
			DefaultModel:   defaultTranscriptionModel,
			Device:         defaultTranscriptionDevice,
			TimeoutSeconds: defaultTranscriptionTimeout,
		},
		Diarization: Diarization{
			Enabled:        true,
			MinSpeakers:    defaultDiarizationMinSpeakers,
			MaxSpeakers:    defaultDiarizationMaxSpeakers,
			TimeoutSeconds: defaultDiarizationTimeout,
		},
		LLM: LLM{
			BaseURL:         defaultLLMBaseURL,
			Model:           defaultLLMModel,
			Temperature:     defaultLLMTemperature,
			TimeoutSeconds:  defaultLLMTimeout,
			DefaultTemplate: defaultNoteTemplate,
		},
		Workers: Workers{
			Count:             defaultWorkerCount,
			QueueCapacity:     defaultQueueCapacity,
			LeaseGraceSeconds: defaultLeaseGraceSeconds,
		},
		Retry: Retry{
			Transcription: defaultRetryOpts,
			Diarization:   defaultRetryOpts,
			Synthesis:     defaultRetryOpts,
		},
		Retention: Retention{
			JobTTLHours:          defaultJobTTLHours,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
		},
		Progress: Progress{
			SubscriberBuffer: defaultSubscriberBuffer,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultCommand is the executable name of the openai-whisper CLI.
const DefaultCommand = "whisper"

// Config captures runtime settings for whisper invocations.
type Config struct {
	Command string
	// Device is passed through to --device ("cpu" or "cuda").
	Device string
	// Language forces the spoken language; empty lets the model detect it.
	Language string
}

// CommandRunner executes name with args and returns combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Service provides whisper transcription.
type Service struct {
	cfg           Config
	commandRunner CommandRunner
}

// NewService creates a whisper service with the given configuration.
func NewService(cfg Config) *Service {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = DefaultCommand
	}
	return &Service{cfg: cfg}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner CommandRunner) *Service {
	s.commandRunner = runner
	return s
}

// Command returns the configured executable.
func (s *Service) Command() string {
	return s.cfg.Command
}

func (s *Service) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

// Segment is one timed span of recognized speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result contains the result of a transcription.
type Result struct {
	Text     string
	Language string
	Segments []Segment
	JSONPath string
}

type payload struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// TranscribeFile transcribes source with the given model tier, writing the
// tool's JSON output under outputDir.
func (s *Service) TranscribeFile(ctx context.Context, source, outputDir, model string) (Result, error) {
	var result Result
	if source == "" {
		return result, errors.New("transcribe: source path required")
	}
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return result, fmt.Errorf("transcribe: ensure output dir: %w", err)
	}

	output, err := s.run(ctx, s.cfg.Command, s.buildArgs(source, outputDir, model)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%s: %w", s.cfg.Command, ctxErr)
		}
		return result, fmt.Errorf("%s: %w: %s", s.cfg.Command, err, tail(string(output), 512))
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	result.JSONPath = filepath.Join(outputDir, baseName+".json")
	parsed, err := LoadResult(result.JSONPath)
	if err != nil {
		return result, err
	}
	parsed.JSONPath = result.JSONPath
	return parsed, nil
}

func (s *Service) buildArgs(source, outputDir, model string) []string {
	if model == "" {
		model = "base"
	}
	device := s.cfg.Device
	if device == "" {
		device = "cpu"
	}
	args := []string{
		source,
		"--model", model,
		"--output_dir", outputDir,
		"--output_format", "json",
		"--device", device,
		"--verbose", "False",
	}
	if device == "cpu" {
		args = append(args, "--fp16", "False")
	}
	if lang := strings.TrimSpace(s.cfg.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	return args
}

// LoadResult parses a whisper JSON output file.
func LoadResult(jsonPath string) (Result, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return Result{}, fmt.Errorf("read whisper output: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Result{}, fmt.Errorf("parse whisper json: %w", err)
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		parts := make([]string, 0, len(p.Segments))
		for _, seg := range p.Segments {
			if t := strings.TrimSpace(seg.Text); t != "" {
				parts = append(parts, t)
			}
		}
		text = strings.Join(parts, " ")
	}
	for i := range p.Segments {
		p.Segments[i].Text = strings.TrimSpace(p.Segments[i].Text)
	}
	return Result{Text: text, Language: p.Language, Segments: p.Segments}, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

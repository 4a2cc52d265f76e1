package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"medscribe/internal/config"
	"medscribe/internal/logging"
	"medscribe/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from config")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "medscribe.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from config") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func readLog(t *testing.T, opts logging.Options, emit func(*slog.Logger)) string {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "out.log")
	opts.OutputPaths = []string{logPath}
	logger, err := logging.New(opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	emit(logger)
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	out := readLog(t, logging.Options{Format: "console", Level: "info"}, func(l *slog.Logger) {
		logging.NewComponentLogger(l, "workflow").Info("stage completed", logging.String("stage", "transcription"), logging.String("note", "two words"))
	})
	if !strings.Contains(out, "INFO workflow: stage completed") {
		t.Fatalf("unexpected console line %q", out)
	}
	if !strings.Contains(out, "stage=transcription") || !strings.Contains(out, `note="two words"`) {
		t.Fatalf("expected key/value fields, got %q", out)
	}
	if strings.Contains(out, ".go:") || strings.Contains(out, "\x1b[") {
		t.Fatalf("expected no caller or color for info file logs, got %q", out)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	out := readLog(t, logging.Options{Format: "console", Level: "debug"}, func(l *slog.Logger) {
		l.Info("message with caller")
	})
	if !strings.Contains(out, ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", out)
	}
}

func TestConsoleLoggerColor(t *testing.T) {
	on := true
	out := readLog(t, logging.Options{Format: "console", Level: "info", Color: &on}, func(l *slog.Logger) {
		l.Warn("colored")
	})
	if !strings.Contains(out, "\x1b[33mWARN") {
		t.Fatalf("expected colored level, got %q", out)
	}
}

func TestJSONLoggerUsesStableKeys(t *testing.T) {
	out := readLog(t, logging.Options{Format: "json", Level: "info"}, func(l *slog.Logger) {
		l.Info("json message", logging.String("k", "v"))
	})
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace([]byte(out)), &record); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, out)
	}
	if record["msg"] != "json message" || record["level"] != "info" || record["k"] != "v" {
		t.Fatalf("unexpected record %#v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %#v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	out := readLog(t, logging.Options{Format: "console", Level: "invalid"}, func(l *slog.Logger) {
		l.Debug("hidden")
		l.Info("visible")
	})
	if strings.Contains(out, "hidden") || !strings.Contains(out, "visible") {
		t.Fatalf("expected info threshold, got %q", out)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-123")
	ctx = services.WithStage(ctx, "diarization")
	ctx = services.WithAttempt(ctx, 2)
	ctx = services.WithRequestID(ctx, "req-xyz")

	out := readLog(t, logging.Options{Format: "json", Level: "info"}, func(l *slog.Logger) {
		logging.WithContext(ctx, l).Info("contextual log")
	})
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace([]byte(out)), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	want := map[string]any{
		logging.FieldJobID:         "job-123",
		logging.FieldStage:         "diarization",
		logging.FieldAttempt:       float64(2),
		logging.FieldCorrelationID: "req-xyz",
	}
	for key, value := range want {
		if record[key] != value {
			t.Fatalf("field %s = %v, want %v", key, record[key], value)
		}
	}
}

func TestWarnWithContextInjectsEventType(t *testing.T) {
	out := readLog(t, logging.Options{Format: "console", Level: "info"}, func(l *slog.Logger) {
		logging.WarnWithContext(l, "stage retry scheduled", "stage_retry")
	})
	if !strings.Contains(out, "event_type=stage_retry") {
		t.Fatalf("expected event_type field, got %q", out)
	}
}

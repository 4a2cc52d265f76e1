package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"medscribe/internal/config"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("artifact not found")

// Store is the artifact storage contract shared by all backends.
type Store interface {
	// Put stores r under key. A limit > 0 rejects content larger than limit.
	Put(ctx context.Context, key string, r io.Reader, limit int64) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Check(ctx context.Context) error
	Describe() string
}

// Open constructs the backend selected by configuration.
func Open(cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("artifact store requires config")
	}
	switch cfg.Artifacts.Backend {
	case config.ArtifactBackendS3:
		return NewS3Store(
			WithEndpoint(cfg.Artifacts.S3Endpoint),
			WithBucket(cfg.Artifacts.S3Bucket),
			WithAccessKey(cfg.Artifacts.S3AccessKey),
			WithSecretKey(cfg.Artifacts.S3SecretKey),
			WithSSL(cfg.Artifacts.S3UseSSL),
		)
	case config.ArtifactBackendFile, "":
		return NewFileStore(cfg.Artifacts.Dir)
	default:
		return nil, fmt.Errorf("unsupported artifact backend %q", cfg.Artifacts.Backend)
	}
}

// UploadKey returns a fresh key for an uploaded file, keeping its extension.
func UploadKey(filename string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/")))
	return "uploads/" + uuid.NewString() + ext
}

// JobPrefix is the prefix holding every sidecar written for a job.
func JobPrefix(jobID string) string {
	return "jobs/" + jobID + "/"
}

// JobKey returns the key for a named sidecar of a job.
func JobKey(jobID, name string) string {
	return JobPrefix(jobID) + name
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("artifact key is empty")
	}
	if strings.HasPrefix(key, "/") || path.Clean(key) != key || key == ".." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("artifact key %q is not canonical", key)
	}
	return key, nil
}

package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge is returned when a stream exceeds the byte limit.
var ErrTooLarge = errors.New("content exceeds size limit")

// WriteResult describes a completed atomic write.
type WriteResult struct {
	Size   int64
	SHA256 string
}

// WriteAtomic streams r into dst through a temp file in the same directory
// and renames it into place. A limit > 0 caps the number of bytes accepted;
// exceeding it removes the partial file and returns ErrTooLarge.
func WriteAtomic(dst string, r io.Reader, limit int64) (WriteResult, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("create parent: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return WriteResult{}, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if err != nil {
		cleanup()
		return WriteResult{}, err
	}
	if limit > 0 && written > limit {
		cleanup()
		return WriteResult{}, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return WriteResult{}, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return WriteResult{}, err
	}
	return WriteResult{Size: written, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// CopyToDir streams r into a new file named name under dir and returns its path.
func CopyToDir(dir, name string, r io.Reader) (string, error) {
	target := filepath.Join(dir, filepath.Base(name))
	if _, err := WriteAtomic(target, r, 0); err != nil {
		return "", err
	}
	return target, nil
}

package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// CheckFFmpegForWhisper reports the FFmpeg binary the transcription command
// will decode audio with.
//
// whisper is usually installed into a virtualenv whose bin directory also
// carries an ffmpeg shim; that copy wins over PATH when present.
func CheckFFmpegForWhisper(whisperCommand string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Used by the transcription command to decode audio",
	}

	whisperBinary := strings.TrimSpace(whisperCommand)
	if whisperBinary != "" {
		if resolved, err := exec.LookPath(whisperBinary); err == nil {
			candidate := siblingBinary(resolved, "ffmpeg")
			if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
				result.Command = candidate
				result.Available = true
				return result
			}
		}
	}

	if ffmpegPath, err := exec.LookPath("ffmpeg"); err == nil {
		result.Command = ffmpegPath
		result.Available = true
		return result
	}

	result.Command = "ffmpeg"
	result.Detail = `binary "ffmpeg" not found`
	return result
}

func siblingBinary(path, name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(path), name)
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

// Describe renders a one-line summary for CLI output.
func (s Status) Describe() string {
	if s.Available {
		return fmt.Sprintf("%s (%s)", s.Name, s.Command)
	}
	return fmt.Sprintf("%s: %s", s.Name, s.Detail)
}

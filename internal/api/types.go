package api

import (
	"medscribe/internal/deps"
	"medscribe/internal/preflight"
	"medscribe/internal/stage"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job in a transport-friendly format.
type Job struct {
	ID              string       `json:"id"`
	Status          string       `json:"status"`
	ProgressPercent int          `json:"progress_percent"`
	Version         int64        `json:"version"`
	Input           Input        `json:"input"`
	Options         Options      `json:"options"`
	Submitter       string       `json:"submitter"`
	Failure         *Failure     `json:"failure,omitempty"`
	CreatedAt       string       `json:"created_at,omitempty"`
	UpdatedAt       string       `json:"updated_at,omitempty"`
	History         []Transition `json:"history,omitempty"`
}

// Input summarizes the submitted artifact.
type Input struct {
	Kind     string `json:"kind"`
	Filename string `json:"filename,omitempty"`
}

// Options mirrors the options captured at submission.
type Options struct {
	Diarization bool   `json:"diarization"`
	Model       string `json:"model"`
	Template    string `json:"template"`
	Language    string `json:"language,omitempty"`
}

// Failure explains why a job failed.
type Failure struct {
	Stage   string `json:"stage"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// Transition is one status history entry.
type Transition struct {
	Status          string `json:"status"`
	ProgressPercent int    `json:"progress_percent"`
	At              string `json:"at"`
}

// JobList wraps a collection of jobs.
type JobList struct {
	Jobs []Job `json:"jobs"`
}

// SubmitText is the JSON body for text submissions.
type SubmitText struct {
	Text    string        `json:"text"`
	Options SubmitOptions `json:"options"`
}

// SubmitOptions are the caller supplied options. Omitted fields take server
// defaults.
type SubmitOptions struct {
	Diarization *bool  `json:"diarization,omitempty"`
	Model       string `json:"model,omitempty"`
	Template    string `json:"template,omitempty"`
	Language    string `json:"language,omitempty"`
}

// Result carries the outputs of a succeeded job.
type Result struct {
	JobID             string `json:"job_id"`
	Note              string `json:"note"`
	Transcript        string `json:"transcript"`
	SpeakerTranscript string `json:"speaker_transcript,omitempty"`
}

// Health reports daemon readiness.
type Health struct {
	Status       string             `json:"status"`
	Running      bool               `json:"running"`
	Store        Check              `json:"store"`
	Artifacts    Check              `json:"artifacts"`
	Stages       []stage.Health     `json:"stages"`
	Checks       []preflight.Result `json:"checks"`
	Dependencies []deps.Status      `json:"dependencies"`
	Queue        QueueStats         `json:"queue"`
	LastError    string             `json:"last_error,omitempty"`
}

// Check is a single named probe.
type Check struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// QueueStats summarizes pending work.
type QueueStats struct {
	Depth       int            `json:"depth"`
	InFlight    int            `json:"in_flight"`
	Subscribers int            `json:"subscribers"`
	Jobs        map[string]int `json:"jobs"`
}

// Error is the body of every error response.
type Error struct {
	ErrorType string            `json:"error_type"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// HealthStatus values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

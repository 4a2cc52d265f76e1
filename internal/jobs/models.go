package jobs

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusTranscribing Status = "transcribing"
	StatusDiarizing    Status = "diarizing"
	StatusSynthesizing Status = "synthesizing"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusTranscribing,
	StatusDiarizing,
	StatusSynthesizing,
	StatusSucceeded,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var forwardTransitions = map[Status][]Status{
	StatusQueued:       {StatusTranscribing},
	StatusTranscribing: {StatusDiarizing, StatusSynthesizing},
	StatusDiarizing:    {StatusSynthesizing},
	StatusSynthesizing: {StatusSucceeded},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a user supplied value into a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// IsTerminal reports whether no further transition can occur.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Label returns the display form of the status ("Synthesizing").
func (s Status) Label() string {
	return cases.Title(language.English).String(string(s))
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InputKind distinguishes audio submissions from inline text.
type InputKind string

const (
	InputAudio InputKind = "audio"
	InputText  InputKind = "text"
)

// Input references the submitted artifact.
type Input struct {
	Kind     InputKind `json:"kind"`
	Ref      string    `json:"ref,omitempty"`
	Filename string    `json:"filename,omitempty"`
	Text     string    `json:"text,omitempty"`
}

// Options are captured at submission and never change afterwards.
type Options struct {
	Diarization bool   `json:"diarization"`
	Model       string `json:"model"`
	Template    string `json:"template"`
	Language    string `json:"language,omitempty"`
}

// FailureReason classifies why a job failed.
type FailureReason string

const (
	ReasonStageUnavailable FailureReason = "stage_unavailable"
	ReasonStageTimeout     FailureReason = "stage_timeout"
	ReasonStageProcessing  FailureReason = "stage_processing"
	ReasonEnqueueFailed    FailureReason = "enqueue_failed"
	ReasonWorkerLost       FailureReason = "worker_lost"
)

// Failure records the stage and classified reason of a failed job.
type Failure struct {
	Stage   Status        `json:"stage"`
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message,omitempty"`
}

// Transition is one entry of a job's status history.
type Transition struct {
	Status          Status    `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	At              time.Time `json:"at"`
}

// Job is the unit of work persisted by the Store.
type Job struct {
	ID              string
	Status          Status
	Input           Input
	Options         Options
	StageOutputs    map[string]string
	Failure         *Failure
	Submitter       string
	ProgressPercent int
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	History         []Transition
}

// Sentinel errors returned by job mutations.
var (
	ErrNotFound          = errors.New("job not found")
	ErrDuplicate         = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOutputExists      = errors.New("stage output already recorded")
	ErrTerminal          = errors.New("job is terminal")
	ErrNoChange          = errors.New("no change")
	ErrConflict          = errors.New("concurrent job update")
)

// New builds a queued job ready for Store.Create.
func New(input Input, opts Options, submitter string) *Job {
	now := time.Now().UTC()
	return &Job{
		Status:       StatusQueued,
		Input:        input,
		Options:      opts,
		StageOutputs: map[string]string{},
		Submitter:    strings.TrimSpace(submitter),
		CreatedAt:    now,
		UpdatedAt:    now,
		History:      []Transition{{Status: StatusQueued, At: now}},
	}
}

// Advance moves the job to the next status and raises progress. Progress
// never decreases.
func (j *Job) Advance(to Status, progress int) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	now := time.Now().UTC()
	j.Status = to
	j.raiseProgress(progress)
	j.UpdatedAt = now
	j.History = append(j.History, Transition{Status: to, ProgressPercent: j.ProgressPercent, At: now})
	return nil
}

// RecordOutput stores a stage output. Outputs are write-once and terminal
// jobs accept none.
func (j *Job) RecordOutput(stage, value string) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, j.Status)
	}
	if j.StageOutputs == nil {
		j.StageOutputs = map[string]string{}
	}
	if _, exists := j.StageOutputs[stage]; exists {
		return fmt.Errorf("%w: %s", ErrOutputExists, stage)
	}
	j.StageOutputs[stage] = value
	return nil
}

// Fail marks the job failed at its current status.
func (j *Job) Fail(reason FailureReason, message string) error {
	stage := j.Status
	if err := j.Advance(StatusFailed, j.ProgressPercent); err != nil {
		return err
	}
	j.Failure = &Failure{Stage: stage, Reason: reason, Message: strings.TrimSpace(message)}
	return nil
}

// Cancel marks the job cancelled.
func (j *Job) Cancel() error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, j.Status)
	}
	return j.Advance(StatusCancelled, j.ProgressPercent)
}

// Output returns a stage output and whether it was recorded.
func (j *Job) Output(stage string) (string, bool) {
	value, ok := j.StageOutputs[stage]
	return value, ok
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.StageOutputs = maps.Clone(j.StageOutputs)
	if cp.StageOutputs == nil {
		cp.StageOutputs = map[string]string{}
	}
	if j.Failure != nil {
		failure := *j.Failure
		cp.Failure = &failure
	}
	cp.History = append([]Transition(nil), j.History...)
	return &cp
}

func (j *Job) raiseProgress(progress int) {
	if progress > 100 {
		progress = 100
	}
	if progress > j.ProgressPercent {
		j.ProgressPercent = progress
	}
}

// Filter narrows List results.
type Filter struct {
	Statuses      []Status
	Submitter     string
	UpdatedBefore time.Time
	Limit         int
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medscribe/internal/jobs"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrConfiguration    = errors.New("configuration error")
	ErrNotFound         = errors.New("not found")
	ErrStageUnavailable = errors.New("stage unavailable")
	ErrStageTimeout     = errors.New("stage timeout")
	ErrStageProcessing  = errors.New("stage processing error")
	ErrEnqueue          = errors.New("enqueue failed")
	ErrWorkerLost       = errors.New("worker lost")
	ErrTransient        = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later failure classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps a stage error to the failure reason persisted on the job.
func Classify(err error) jobs.FailureReason {
	switch {
	case errors.Is(err, ErrEnqueue):
		return jobs.ReasonEnqueueFailed
	case errors.Is(err, ErrWorkerLost):
		return jobs.ReasonWorkerLost
	case errors.Is(err, ErrStageUnavailable):
		return jobs.ReasonStageUnavailable
	case errors.Is(err, ErrStageTimeout), errors.Is(err, context.DeadlineExceeded):
		return jobs.ReasonStageTimeout
	default:
		return jobs.ReasonStageProcessing
	}
}

// Retryable reports whether redelivering the stage could change the outcome.
// Missing dependencies and invalid inputs fail the same way every time.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrStageUnavailable),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// ErrorType returns the stable identifier used in API error payloads.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrEnqueue):
		return "enqueue_failed"
	case errors.Is(err, ErrStageUnavailable):
		return "stage_unavailable"
	case errors.Is(err, ErrStageTimeout):
		return "stage_timeout"
	case errors.Is(err, ErrStageProcessing):
		return "stage_processing_error"
	default:
		return "internal_error"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

package taskqueue

import (
	"time"

	"medscribe/internal/stage"
)

// EventKind enumerates worker report types.
type EventKind string

const (
	// EventStarted is reported when a worker begins an attempt.
	EventStarted EventKind = "started"
	// EventCompleted carries the stage output.
	EventCompleted EventKind = "completed"
	// EventRetrying reports a failed attempt that will be redelivered.
	EventRetrying EventKind = "retrying"
	// EventExhausted reports a permanent stage failure.
	EventExhausted EventKind = "exhausted"
)

// Event is the typed completion message a worker sends to the controller.
type Event struct {
	Kind       EventKind
	DeliveryID string
	JobID      string
	Stage      stage.Name
	Attempt    int
	Output     string
	Err        error
	// RetryIn is set on EventRetrying.
	RetryIn time.Duration
	At      time.Time
}

// Package api defines the wire-format types shared by the daemon HTTP server
// and the CLI client, plus converters from domain records.
//
// # Key Types
//
// Job: transport representation of a job with status, progress, options and
// failure. Result: the outputs of a succeeded job. Health: store, stage and
// filesystem readiness. Error: the body of every non-2xx response.
//
// # Design Notes
//
// JSON keys are snake_case and timestamps RFC3339 with milliseconds in UTC.
// Input text is never echoed back in job views; it is available only as the
// transcript in a Result.
package api

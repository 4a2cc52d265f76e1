// Package daemon hosts the long-running MedScribe service: it holds the
// single-instance lock, starts the pipeline controller, recovers in-flight
// jobs, runs the retention sweeper and serves the HTTP API.
//
// The HTTP surface is a chi router under /api/v1 with a websocket progress
// stream per job and a Prometheus endpoint at /metrics.
package daemon

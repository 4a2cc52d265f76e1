// Package metrics exposes Prometheus collectors for the pipeline and the
// HTTP API on a private registry served at /metrics.
package metrics

// Package config loads, normalizes, and validates MedScribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies MEDSCRIBE_* environment overrides
// for secrets such as the LLM API key and the diarization token. The Config
// type centralizes every knob the daemon and CLI need, including the per-stage
// retry policy consumed by the task queue.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config

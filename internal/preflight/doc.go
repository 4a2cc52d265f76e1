// Package preflight provides readiness checks for the filesystem paths and
// external services MedScribe depends on.
//
// The daemon health endpoint runs RunAll on every request and the CLI
// "health" command renders the same results. Checks for disabled features
// are skipped.
package preflight

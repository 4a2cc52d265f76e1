// Package services defines shared utilities consumed by the stage executors
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, delivery attempts, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Classify which turns
//     any stage error into the failure reason persisted on a job.
//
// Subpackages hold the clients for the transcription runner, the diarization
// service, and the chat-completion endpoint used for note synthesis.
package services

// Package transcription implements the speech-to-text stage executor.
//
// Text submissions bypass the model and return the submitted text verbatim.
// Audio submissions are copied out of the artifact store into a scratch
// directory, run through the whisper command, and returned as plain text.
// Timed segments are kept as a `segments.json` sidecar under the job's
// artifact prefix so diarization can align speaker turns to words.
package transcription

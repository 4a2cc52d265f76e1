// Package workflow is the pipeline controller: the single writer of job
// status and stage outputs.
//
// Manager owns the worker pool and consumes its events through sharded
// appliers keyed by job id, so transitions for one job apply in delivery
// order while different jobs proceed in parallel. Every transition is
// persisted through jobs.Store.Update before it is published to the progress
// broadcaster, and only then is the next stage enqueued. An enqueue that
// fails after a persisted transition fails the job with enqueue_failed so no
// job is left waiting on a request that does not exist.
//
// Events for terminal jobs, or for a stage other than the one the job's
// status expects, are discarded. Combined with the queue's at-least-once
// delivery this makes duplicate and late results harmless.
//
// The stage sequence is Queued → Transcribing → [Diarizing] → Synthesizing →
// Succeeded. Diarization is skipped when the job did not request it or the
// executor is unavailable; text submissions skip transcription at dispatch.
package workflow

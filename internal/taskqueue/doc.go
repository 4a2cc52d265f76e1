// Package taskqueue distributes stage executions across a worker pool.
//
// Queue holds Stage Requests with at-least-once semantics: a dequeued
// request is leased to one worker, and a lease that is neither completed nor
// retried before its deadline is redelivered under a new delivery id. Results
// reported against an expired delivery id are dropped, so a slow worker can
// never overwrite the outcome of its redelivery.
//
// Pool runs the workers. Each worker resolves the executor input, runs the
// executor under the stage timeout, and reports Started, Completed, Retrying
// or Exhausted events on a channel owned by the pipeline controller. Workers
// never write the job store.
//
// Enqueue is idempotent per (job, stage) while a request is pending or in
// flight, which makes re-dispatch after a restart safe.
package taskqueue

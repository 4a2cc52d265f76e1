// Package jobs owns the durable job record and its state machine.
//
// A Job moves Queued -> Transcribing -> [Diarizing] -> Synthesizing ->
// Succeeded, with Failed and Cancelled reachable from any non-terminal
// status. CanTransition encodes the legal edges and the Job helpers (Advance,
// RecordOutput, Fail) refuse anything else, so callers mutate records only
// through Store.Update transition functions.
//
// The Store persists jobs in SQLite (modernc.org/sqlite) or Postgres
// (pgx stdlib) with goose-managed schema migrations. Update runs a
// read-modify-write under a per-job key lock plus an optimistic version
// check, keeping same-job writes linearizable while unrelated jobs proceed
// in parallel.
package jobs

// Package diarization implements the speaker attribution stage executor.
//
// The stage sends the job's audio to the diarization service, names the
// speakers by speaking time (the most talkative speaker is the clinician,
// the next the patient) and attributes transcript text to each turn. When
// the transcription sidecar is present, each timed segment goes to the turn
// it overlaps most; otherwise transcript words are split across turns in
// proportion to turn duration.
//
// An executor without an endpoint or token reports services.ErrStageUnavailable
// so the pipeline can skip straight to synthesis.
package diarization

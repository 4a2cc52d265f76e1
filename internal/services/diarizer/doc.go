// Package diarizer is the HTTP client for the speaker-diarization service.
//
// The service accepts a multipart upload (`audio` plus optional
// `min_speakers`/`max_speakers`) on POST /diarize and answers with
// `{"turns": [{"speaker", "start", "end"}]}`. Requests carry the Hugging
// Face token as a bearer credential; without a token or endpoint the client
// reports ErrNotConfigured so callers can skip the stage.
package diarizer

// Package whisper runs the openai-whisper command line tool against an audio
// file and parses its JSON output into plain text plus timed segments.
//
// The command runner is injectable so tests never need the real model.
package whisper

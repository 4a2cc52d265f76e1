// Package submission validates incoming job requests, stores uploaded audio
// and hands accepted jobs to the pipeline controller.
//
// Option defaults come from configuration. Validation runs through
// go-playground/validator with custom rules for model tiers, note
// templates, language tags and audio formats; a rejected request never
// creates a job.
package submission

// Package artifacts stores uploaded audio and per-job sidecar files.
//
// Two backends share the Store contract: a local directory tree and an
// S3-compatible bucket reached through minio-go. Keys are slash separated
// and never absolute; the Upload and JobPrefix helpers produce the layouts
// used by the submission API and the stage executors.
package artifacts

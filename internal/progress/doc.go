// Package progress fans job status events out to live subscribers.
//
// Subscribe registers the subscriber before reading the job snapshot, so no
// event published in between is lost; the snapshot is always delivered first
// and live events at or below the snapshot version are dropped as already
// reflected. Publish never blocks: each subscriber has a bounded buffer that
// sheds its oldest event on overflow. A terminal event is always delivered
// and closes the stream.
package progress

package types

import (
	"time"

	"github.com/google/uuid"
)

// StreamMetadata holds the subset of a stream's $$-metadata stream that
// the Reader and Append Coordinator enforce directly, rather than
// exposing as opaque bytes.
type StreamMetadata struct {
	// TruncateBefore is the lowest event number still visible to readers
	// ("$tb"). Events below it are omitted from reads but their event
	// numbers are never reused.
	TruncateBefore EventNumber
	MaxAge         *time.Duration
	MaxCount       *int64
	CacheControl   *time.Duration
	Version        int64
}

// LastBatch remembers the event IDs and starting event number of the most
// recently committed append to a stream, so a retried append with the
// same IDs at the same expected version can be recognized as a replay
// instead of a conflict.
type LastBatch struct {
	FirstEventNumber EventNumber
	EventIDs         []uuid.UUID
	Position         LogPosition
}

// StreamState is the Append Coordinator's in-memory view of a stream's
// tail, used to validate expected-version on every append.
type StreamState struct {
	StreamID   string
	Tail       EventNumber // NoStream if the stream has never been written
	Tombstoned bool
	Metadata   StreamMetadata
	Last       LastBatch
}

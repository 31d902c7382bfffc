package types

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventNumber is a dense, zero-based per-stream sequence number. Negative
// values below are reserved sentinels used to express a caller's expected
// version on append; see ExactVersion for the well-formed positive case.
type EventNumber int64

const (
	// Any means the caller does not care about the current stream tail.
	Any EventNumber = -2
	// NoStream asserts the stream must not exist yet.
	NoStream EventNumber = -1
	// StreamExists asserts the stream must already have at least one event.
	StreamExists EventNumber = -4
)

// ExactVersion builds the expected-version sentinel for "the stream tail
// must currently be exactly n".
func ExactVersion(n int64) EventNumber {
	return EventNumber(n)
}

// IsExact reports whether e names a concrete event number rather than one
// of the Any/NoStream/StreamExists sentinels.
func (e EventNumber) IsExact() bool {
	return e >= 0
}

func (e EventNumber) String() string {
	switch e {
	case Any:
		return "any"
	case NoStream:
		return "no-stream"
	case StreamExists:
		return "stream-exists"
	default:
		if e.IsExact() {
			return strconv.FormatInt(int64(e), 10)
		}
		return "invalid"
	}
}

// LogPosition locates a record in the global transaction log. Commit
// defines the "all"-stream order; ties break on Prepare.
type LogPosition struct {
	Commit  int64
	Prepare int64
}

// Less reports whether p sorts strictly before o in global commit order.
func (p LogPosition) Less(o LogPosition) bool {
	if p.Commit != o.Commit {
		return p.Commit < o.Commit
	}
	return p.Prepare < o.Prepare
}

// ZeroPosition is the smallest possible log position, used as "start of log".
var ZeroPosition = LogPosition{Commit: -1, Prepare: -1}

// Event is an immutable record appended to a stream. ID is supplied by
// the client and is the unit of idempotency; EventNumber and Position
// are assigned by the Append Coordinator once the event is committed.
type Event struct {
	ID          uuid.UUID
	StreamID    string
	EventNumber EventNumber
	Type        string
	IsJSON      bool
	Data        []byte
	Metadata    []byte
	CreatedAt   time.Time
	Position    LogPosition
}

// ProposedEvent is the client-supplied half of Event, before the
// coordinator has assigned an event number or log position.
type ProposedEvent struct {
	ID       uuid.UUID
	Type     string
	IsJSON   bool
	Data     []byte
	Metadata []byte
}

// IsSystemStream reports whether name is a system stream ($-prefixed).
func IsSystemStream(name string) bool {
	return len(name) > 0 && name[0] == '$'
}

// MetadataStreamName returns the metadata stream name for stream s.
func MetadataStreamName(s string) string {
	return "$$" + s
}


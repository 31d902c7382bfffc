package coordinator

import (
	"encoding/json"

	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
)

// Command is the tagged-union payload every raft log entry carries;
// CoordinatorFSM.Apply switches on Op.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opAppend      = "append"
	opMarkDeleted = "mark_deleted"
	opSetMetadata = "set_metadata"
)

// AppendCommand proposes a batch of events to a single stream under an
// expected-version check.
type AppendCommand struct {
	StreamID        string                `json:"stream_id"`
	ExpectedVersion types.EventNumber     `json:"expected_version"`
	Events          []types.ProposedEvent `json:"events"`
}

// AppendResult is CoordinatorFSM.Apply's return value for an
// AppendCommand, type-asserted by Coordinator.Append out of the raft
// apply future.
type AppendResult struct {
	Position         types.LogPosition
	FirstEventNumber types.EventNumber
	Err              error
}

// MarkDeletedCommand hard- or soft-deletes a stream.
type MarkDeletedCommand struct {
	StreamID string `json:"stream_id"`
	Hard     bool   `json:"hard"`
}

// SetMetadataCommand updates a stream's enforced metadata.
type SetMetadataCommand struct {
	StreamID string               `json:"stream_id"`
	Metadata types.StreamMetadata `json:"metadata"`
}

func marshalCommand(op string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Command{Op: op, Data: raw})
}

// eventIDsMatch reports whether a and b contain the same event IDs in
// the same order, the idempotent-replay comparison used by Apply.
func eventIDsMatch(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

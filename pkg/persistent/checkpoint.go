package persistent

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/eventstore/pkg/types"
)

// checkpointStreamName returns the system stream a group's checkpoints
// are appended to: $persistentsubscription-{stream}::{group}-checkpoint.
func checkpointStreamName(streamID, groupName string) string {
	return fmt.Sprintf("$persistentsubscription-%s::%s-checkpoint", streamID, groupName)
}

// parkStreamName returns the system stream a group's parked events are
// appended to.
func parkStreamName(streamID, groupName string) string {
	return fmt.Sprintf("$persistentsubscription-%s::%s-parked", streamID, groupName)
}

type checkpointRecord struct {
	EventNumber types.EventNumber `json:"event_number"`
}

func encodeCheckpoint(n types.EventNumber) []byte {
	b, _ := json.Marshal(checkpointRecord{EventNumber: n})
	return b
}

func decodeCheckpoint(data []byte) (types.EventNumber, error) {
	var rec checkpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.NoStream, fmt.Errorf("persistent: decode checkpoint: %w", err)
	}
	return rec.EventNumber, nil
}

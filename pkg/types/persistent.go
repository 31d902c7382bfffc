package types

import (
	"time"

	"github.com/google/uuid"
)

// InFlightEvent is one event a persistent subscription group has handed
// to a consumer and is waiting on an Ack/Nack for.
type InFlightEvent struct {
	Event       Event
	ConsumerID  string
	RetryCount  int
	DeliveredAt time.Time
}

// ParkedEvent is an event a consumer Nack'd with NackPark (or that
// exhausted MaxRetries), held in the group's parked-message stream for
// manual replay.
type ParkedEvent struct {
	Event    Event
	Reason   string
	ParkedAt time.Time
}

// PersistentSubscriptionGroup is the durable, server-side state of one
// named consumer group on one stream (or $all).
type PersistentSubscriptionGroup struct {
	GroupName string
	StreamID  string // "$all" for an all-stream group
	Settings  PersistentSubscriptionSettings
	Filter    FilterSpec

	// LastProcessed is the checkpointed event number (or log position for
	// $all groups); persisted to the checkpoint stream on the cadence
	// configured by CheckpointAfter / Min/MaxCheckpointCount.
	LastProcessedEventNumber EventNumber
	LastProcessedPosition    LogPosition

	ConnectedConsumers int
	InFlight           map[uuid.UUID]InFlightEvent
}

package persistent

import (
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
)

// Session is one connected consumer's handle on a persistent
// subscription group: a read-only delivery channel plus ack/nack.
type Session struct {
	group      *Group
	consumerID string

	Events <-chan *Delivery
}

// Ack acknowledges successful processing of eventIDs.
func (s *Session) Ack(eventIDs []uuid.UUID) {
	s.group.Ack(eventIDs)
}

// Nack reports failed processing of eventIDs, applying action.
func (s *Session) Nack(eventIDs []uuid.UUID, action types.NackAction) {
	s.group.Nack(eventIDs, action)
}

// Close disconnects the consumer; its in-flight events are
// redistributed to any remaining connected consumers.
func (s *Session) Close() {
	s.group.disconnect(s.consumerID)
}

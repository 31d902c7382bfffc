package subscribe

import (
	"sync"

	"github.com/cuemby/eventstore/pkg/reader"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
)

// MessageKind tags the outbound push frames a Subscription's Out
// channel carries.
type MessageKind int

const (
	MsgEventAppeared MessageKind = iota
	MsgCheckpoint
	MsgLiveProcessingStarted
	MsgDropped
)

// Message is the single push-frame type delivered to a subscriber;
// which fields are meaningful depends on Kind.
type Message struct {
	Kind     MessageKind
	Event    types.Event
	Position types.LogPosition
	Reason   types.DropReason
}

// Mode distinguishes the three subscription kinds of §4.E.
type Mode int

const (
	ModeLive Mode = iota
	ModeCatchUpStream
	ModeCatchUpAll
)

const defaultQueueSize = 256

// Subscription is a single subscriber's handle: an outbound message
// queue plus the phase state machine driving it. Callers read Out
// until it is closed (which happens exactly once, after a MsgDropped
// is enqueued or best-effort on Unsubscribe).
type Subscription struct {
	ID       uuid.UUID
	Mode     Mode
	StreamID string // only meaningful for ModeCatchUpStream

	Out chan *Message

	predicate reader.Predicate

	mu     sync.Mutex
	state  types.CatchUpState
	closed bool
	stop   chan struct{}
}

func newSubscription(mode Mode, streamID string, predicate reader.Predicate, queueSize int) *Subscription {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if predicate == nil {
		predicate = func(string, string) bool { return true }
	}
	return &Subscription{
		ID:        uuid.New(),
		Mode:      mode,
		StreamID:  streamID,
		Out:       make(chan *Message, queueSize),
		predicate: predicate,
		state:     types.CatchUpState{Phase: types.PhaseReading},
		stop:      make(chan struct{}),
	}
}

// Phase reports the subscription's current catch-up phase.
func (s *Subscription) Phase() types.CatchUpPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Phase
}

func (s *Subscription) setPhase(p types.CatchUpPhase) {
	s.mu.Lock()
	s.state.Phase = p
	s.mu.Unlock()
}

func (s *Subscription) setCheckpoint(pos types.LogPosition) {
	s.mu.Lock()
	s.state.LastCheckpoint = pos
	s.mu.Unlock()
}

// isStopped reports whether Unsubscribe has been called.
func (s *Subscription) isStopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// deliver enqueues msg without blocking; it returns false if the
// queue was full or the subscription has already been dropped/closed.
func (s *Subscription) deliver(msg *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.Out <- msg:
		return true
	default:
		return false
	}
}

// drop delivers a MsgDropped (best-effort) and permanently closes Out.
// No further callbacks fire after drop returns, matching the
// unsubscribe-is-terminal contract.
func (s *Subscription) drop(reason types.DropReason) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	select {
	case s.Out <- &Message{Kind: MsgDropped, Reason: reason}:
	default:
	}
	close(s.Out)
	s.mu.Unlock()
	s.setPhase(types.PhaseDropped)
}

// Unsubscribe idempotently stops delivery. Before it returns it
// enqueues a best-effort MsgDropped(Unsubscribed) and closes Out, so no
// event is delivered after this call; the driving goroutine exits once
// it observes stop.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	alreadyStopped := s.isStoppedLocked()
	s.mu.Unlock()
	if alreadyStopped {
		return
	}
	close(s.stop)
	s.drop(types.DropUnsubscribed)
}

func (s *Subscription) isStoppedLocked() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

package bus

import (
	"sync"

	"github.com/cuemby/eventstore/pkg/types"
)

// Committed is published once per committed event, in commit order,
// to every subscriber of the commit bus.
type Committed struct {
	Event            types.Event
	Position         types.LogPosition
	FirstEventNumber types.EventNumber
}

// Subscriber is a bounded channel of Committed messages. Readers must
// keep up; a full channel causes the broker to drop the message for
// that subscriber rather than block publication.
type Subscriber chan *Committed

const subscriberBufferSize = 256

// Broker fans out Committed messages published by the Append
// Coordinator to every registered Subscriber.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	publishCh   chan *Committed
	stopCh      chan struct{}
}

// NewBroker creates a Broker. Call Start to begin its dispatch loop.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		publishCh:   make(chan *Committed, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's dispatch loop in its own goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts the dispatch loop. Subscriber channels are not closed;
// each stays open until it is passed to Unsubscribe.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a new subscriber and returns its receive channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, subscriberBufferSize)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe is idempotent: removing an already-removed subscriber is
// a no-op.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.subscribers[sub] {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish stages msg for broadcast. It never blocks on a slow
// subscriber; it only blocks if the staging buffer itself is full,
// which the Append Coordinator uses as its own back-pressure signal
// before acknowledging a write.
func (b *Broker) Publish(msg *Committed) {
	select {
	case b.publishCh <- msg:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case msg := <-b.publishCh:
			b.broadcast(msg)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(msg *Committed) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- msg:
		default:
			// subscriber buffer full; drop for this message
		}
	}
}

// SubscriberCount reports the current number of registered subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

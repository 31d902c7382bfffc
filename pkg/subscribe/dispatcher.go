package subscribe

import (
	"sync"

	"github.com/cuemby/eventstore/pkg/bus"
	"github.com/cuemby/eventstore/pkg/reader"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config bounds a Dispatcher's subscriptions.
type Config struct {
	// QueueSize is the outbound buffer depth for every subscription.
	QueueSize int
	// CatchUpBatchSize is how many events a historical read pulls at a time.
	CatchUpBatchSize int
	// CheckpointEvery is the default send-checkpoint-message-count for
	// filtered all-stream subscriptions.
	CheckpointEvery int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.CatchUpBatchSize <= 0 {
		c.CatchUpBatchSize = 100
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 100
	}
	return c
}

// Dispatcher owns every active subscription and the goroutine driving
// each one's phase transitions.
type Dispatcher struct {
	cfg    Config
	reader *reader.Reader
	broker *bus.Broker
	log    zerolog.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription
}

// New builds a Dispatcher over the given reader and commit bus.
func New(cfg Config, r *reader.Reader, broker *bus.Broker, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg.withDefaults(),
		reader: r,
		broker: broker,
		log:    log,
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

func (d *Dispatcher) register(sub *Subscription) {
	d.mu.Lock()
	d.subs[sub.ID] = sub
	d.mu.Unlock()
}

func (d *Dispatcher) unregister(id uuid.UUID) {
	d.mu.Lock()
	delete(d.subs, id)
	d.mu.Unlock()
}

// SubscriptionCount reports how many subscriptions are currently registered.
func (d *Dispatcher) SubscriptionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// CountsByMode reports how many subscriptions are currently registered
// per Mode, for metrics collection.
func (d *Dispatcher) CountsByMode() map[Mode]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make(map[Mode]int, 3)
	for _, sub := range d.subs {
		counts[sub.Mode]++
	}
	return counts
}

// SubscribeLive registers a live, non-catch-up subscription: the
// subscriber receives every Committed message published from this
// point forward, matching filter.
func (d *Dispatcher) SubscribeLive(filter types.FilterSpec) *Subscription {
	sub := newSubscription(ModeLive, "", reader.CompilePredicate(filter), d.cfg.QueueSize)
	sub.setPhase(types.PhaseLive)
	d.register(sub)
	go d.runLive(sub)
	return sub
}

// SubscribeCatchUpStream registers a single-stream catch-up
// subscription starting just past fromEventNumber.
func (d *Dispatcher) SubscribeCatchUpStream(streamID string, fromEventNumber types.EventNumber) *Subscription {
	sub := newSubscription(ModeCatchUpStream, streamID, nil, d.cfg.QueueSize)
	d.register(sub)
	go d.runCatchUpStream(sub, streamID, fromEventNumber)
	return sub
}

// SubscribeFilteredAll registers a filtered all-stream catch-up
// subscription starting just past fromPosition, with periodic
// checkpoints on the live path.
func (d *Dispatcher) SubscribeFilteredAll(fromPosition types.LogPosition, filter types.FilterSpec) *Subscription {
	sub := newSubscription(ModeCatchUpAll, "", reader.CompilePredicate(filter), d.cfg.QueueSize)
	d.register(sub)
	go d.runCatchUpAll(sub, fromPosition)
	return sub
}

// Unsubscribe idempotently stops and removes a subscription.
func (d *Dispatcher) Unsubscribe(id uuid.UUID) {
	d.mu.Lock()
	sub, ok := d.subs[id]
	d.mu.Unlock()
	if !ok {
		return
	}
	sub.Unsubscribe()
	d.unregister(id)
}

// runLive forwards commit-bus messages to sub until it is unsubscribed
// or its outbound queue overflows.
func (d *Dispatcher) runLive(sub *Subscription) {
	busSub := d.broker.Subscribe()
	defer d.broker.Unsubscribe(busSub)
	defer d.unregister(sub.ID)

	for {
		select {
		case <-sub.stop:
			return
		case committed, ok := <-busSub:
			if !ok {
				return
			}
			if !sub.predicate(committed.Event.StreamID, committed.Event.Type) {
				continue
			}
			if sub.isStopped() {
				return
			}
			if !sub.deliver(&Message{Kind: MsgEventAppeared, Event: committed.Event, Position: committed.Position}) {
				sub.drop(types.DropSubscriberMaxCountReached)
				return
			}
		}
	}
}

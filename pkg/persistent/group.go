package persistent

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/eventstore/pkg/reader"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const timeoutScanInterval = 50 * time.Millisecond

// Appender is the narrow slice of coordinator.Coordinator the engine
// needs: committing checkpoint and park-buffer writes through the same
// serialized append path as client traffic.
type Appender interface {
	Append(streamID string, expectedVersion types.EventNumber, events []types.ProposedEvent) (types.LogPosition, types.EventNumber, error)
}

// Delivery is one event handed to a connected consumer.
type Delivery struct {
	Event types.Event
}

// Group is one (stream, group-name) persistent subscription: a read
// cursor, an in-flight map with per-event deadlines, and a set of
// connected consumers competing for work under a named strategy.
type Group struct {
	streamID  string
	groupName string
	settings  types.PersistentSubscriptionSettings
	filter    reader.Predicate

	appender Appender
	reader   *reader.Reader
	log      zerolog.Logger

	mu          sync.Mutex
	cursor      types.EventNumber
	checkpoint  types.EventNumber
	completed   map[int64]bool // event numbers acked/skipped/parked, awaiting contiguous advance
	inFlight    map[uuid.UUID]types.InFlightEvent
	retryCounts map[uuid.UUID]int
	consumers   map[string]*consumerState
	order       []string
	rrCursor    int
	pending     []types.Event // events awaiting redelivery (retry/reconnect), tried before new reads

	eventsSinceCheckpoint int
	lastCheckpointAt      time.Time

	stop chan struct{}
	wake chan struct{}
	done chan struct{}
}

func newGroup(streamID, groupName string, settings types.PersistentSubscriptionSettings, filter types.FilterSpec, r *reader.Reader, appender Appender, log zerolog.Logger) *Group {
	g := &Group{
		streamID:    streamID,
		groupName:   groupName,
		settings:    settings,
		filter:      reader.CompilePredicate(filter),
		appender:    appender,
		reader:      r,
		log:         log,
		checkpoint:  types.NoStream,
		completed:   make(map[int64]bool),
		inFlight:    make(map[uuid.UUID]types.InFlightEvent),
		retryCounts: make(map[uuid.UUID]int),
		consumers:   make(map[string]*consumerState),
		stop:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	g.recover()
	go g.run()
	return g
}

// recover reads the latest persisted checkpoint (if any) and resumes
// the cursor just past it, per §4.F "Recovery".
func (g *Group) recover() {
	cpStream := checkpointStreamName(g.streamID, g.groupName)
	slice, err := g.reader.ReadStreamBackward(cpStream, types.EventNumber(1<<62), 1, false)
	if err == nil && len(slice.Events) > 0 {
		if n, err := decodeCheckpoint(slice.Events[0].Data); err == nil {
			g.checkpoint = n
			g.cursor = n + 1
			return
		}
	}
	g.cursor = g.settings.StartFrom
	if g.cursor == types.Any {
		// Start from live: skip everything already in the stream.
		g.cursor = 0
		if tail, err := g.reader.ReadStreamBackward(g.streamID, types.EventNumber(1<<62), 1, false); err == nil && !tail.Deleted && tail.TailAtRead.IsExact() {
			g.cursor = tail.TailAtRead + 1
		}
	}
	g.checkpoint = g.cursor - 1
}

func (g *Group) run() {
	defer close(g.done)
	ticker := time.NewTicker(timeoutScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			g.persistCheckpoint(true)
			return
		case <-ticker.C:
			g.scanTimeouts()
			g.dispatch()
		case <-g.wake:
			g.dispatch()
		}
	}
}

func (g *Group) nudge() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// dispatch first retries any pending (previously undeliverable)
// events, then fills connected consumers' in-flight quota by reading
// forward from the cursor and assigning events per the group's
// strategy, stopping once no consumer has free capacity.
func (g *Group) dispatch() {
	g.drainPending()

	for {
		g.mu.Lock()
		if len(g.order) == 0 {
			g.mu.Unlock()
			return
		}
		cursor := g.cursor
		g.mu.Unlock()

		slice, err := g.reader.ReadStreamForward(g.streamID, cursor, g.settings.ReadBatchSize, g.settings.ResolveLinks)
		if err != nil {
			g.log.Error().Err(err).Str("stream", g.streamID).Str("group", g.groupName).Msg("persistent: read batch failed")
			return
		}

		progressed := false
		for _, ev := range slice.Events {
			if !g.filter(ev.StreamID, ev.Type) {
				g.advanceCompleted(ev.EventNumber)
				continue
			}
			g.mu.Lock()
			consumer := selectConsumer(g.settings.NamedConsumerStrategy, g.consumers, g.order, &g.rrCursor, ev)
			if consumer == nil {
				g.cursor = ev.EventNumber
				g.mu.Unlock()
				return
			}
			consumer.inFlight++
			g.inFlight[ev.ID] = types.InFlightEvent{Event: ev, ConsumerID: consumer.id, DeliveredAt: time.Now()}
			g.cursor = ev.EventNumber + 1
			g.mu.Unlock()

			select {
			case consumer.out <- &Delivery{Event: ev}:
			default:
				// consumer channel full despite capacity bookkeeping; treat as
				// an immediate retry candidate rather than blocking the group.
				g.mu.Lock()
				delete(g.inFlight, ev.ID)
				consumer.inFlight--
				g.cursor = ev.EventNumber
				g.mu.Unlock()
				return
			}
			progressed = true
		}

		if slice.IsEndOfStream || !progressed {
			return
		}
	}
}

// advanceCompleted marks n complete and advances checkpoint while the
// run of completed event numbers starting at checkpoint+1 is unbroken.
func (g *Group) advanceCompleted(n types.EventNumber) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[int64(n)] = true
	for g.completed[int64(g.checkpoint)+1] {
		g.checkpoint++
		delete(g.completed, int64(g.checkpoint))
		g.eventsSinceCheckpoint++
	}
	g.maybePersistCheckpointLocked()
}

func (g *Group) maybePersistCheckpointLocked() {
	due := g.eventsSinceCheckpoint >= g.settings.MaxCheckpointCount ||
		(g.eventsSinceCheckpoint >= g.settings.MinCheckpointCount && time.Since(g.lastCheckpointAt) >= time.Duration(g.settings.CheckpointAfter))
	if !due {
		return
	}
	checkpoint := g.checkpoint
	g.eventsSinceCheckpoint = 0
	g.lastCheckpointAt = time.Now()
	go g.writeCheckpoint(checkpoint)
}

func (g *Group) persistCheckpoint(force bool) {
	g.mu.Lock()
	checkpoint := g.checkpoint
	g.mu.Unlock()
	if force {
		g.writeCheckpoint(checkpoint)
	}
}

func (g *Group) writeCheckpoint(n types.EventNumber) {
	stream := checkpointStreamName(g.streamID, g.groupName)
	_, _, err := g.appender.Append(stream, types.Any, []types.ProposedEvent{
		{ID: uuid.New(), Type: "$checkpoint", Data: encodeCheckpoint(n)},
	})
	if err != nil {
		g.log.Error().Err(err).Str("stream", g.streamID).Str("group", g.groupName).Msg("persistent: checkpoint write failed")
	}
}

func (g *Group) park(ev types.Event, reason string) {
	stream := parkStreamName(g.streamID, g.groupName)
	_, _, err := g.appender.Append(stream, types.Any, []types.ProposedEvent{
		{ID: uuid.New(), Type: ev.Type, Data: ev.Data, Metadata: []byte(fmt.Sprintf(`{"parked_reason":%q}`, reason))},
	})
	if err != nil {
		g.log.Error().Err(err).Str("stream", g.streamID).Str("group", g.groupName).Msg("persistent: park write failed")
	}
}

// scanTimeouts treats every in-flight event past its deadline as an
// implicit nack(retry).
func (g *Group) scanTimeouts() {
	now := time.Now()
	var timedOut []uuid.UUID
	g.mu.Lock()
	deadline := time.Duration(g.settings.MessageTimeout)
	for id, e := range g.inFlight {
		if now.Sub(e.DeliveredAt) >= deadline {
			timedOut = append(timedOut, id)
		}
	}
	g.mu.Unlock()

	for _, id := range timedOut {
		g.Nack([]uuid.UUID{id}, types.NackRetry)
	}
}

// Ack acknowledges successful processing of the given event ids.
func (g *Group) Ack(eventIDs []uuid.UUID) {
	for _, id := range eventIDs {
		g.mu.Lock()
		e, ok := g.inFlight[id]
		if !ok {
			g.mu.Unlock()
			continue
		}
		delete(g.inFlight, id)
		delete(g.retryCounts, id)
		if c, ok := g.consumers[e.ConsumerID]; ok {
			c.inFlight--
		}
		g.mu.Unlock()
		g.advanceCompleted(e.Event.EventNumber)
	}
	g.nudge()
}

// Nack applies action to the given event ids per §4.F's delivery
// tracking rules.
func (g *Group) Nack(eventIDs []uuid.UUID, action types.NackAction) {
	for _, id := range eventIDs {
		g.mu.Lock()
		e, ok := g.inFlight[id]
		if !ok {
			g.mu.Unlock()
			continue
		}
		delete(g.inFlight, id)
		if c, ok := g.consumers[e.ConsumerID]; ok {
			c.inFlight--
		}
		g.mu.Unlock()

		switch action {
		case types.NackSkip, types.NackStop:
			g.advanceCompleted(e.Event.EventNumber)

		case types.NackPark:
			g.park(e.Event, "nacked")
			g.advanceCompleted(e.Event.EventNumber)

		default: // NackRetry
			g.mu.Lock()
			g.retryCounts[id]++
			retries := g.retryCounts[id]
			g.mu.Unlock()
			if retries > g.settings.MaxRetries {
				g.park(e.Event, "max-retries-exceeded")
				g.advanceCompleted(e.Event.EventNumber)
				continue
			}
			g.redeliver(e.Event)
		}
	}
	g.nudge()
}

// redeliver re-enters ev into the in-flight map against a (possibly
// different) consumer selected by the group's strategy, without
// re-reading it from the log. If no consumer currently has capacity,
// ev is queued in g.pending and retried on the next dispatch pass.
func (g *Group) redeliver(ev types.Event) {
	g.mu.Lock()
	consumer := selectConsumer(g.settings.NamedConsumerStrategy, g.consumers, g.order, &g.rrCursor, ev)
	if consumer == nil {
		g.pending = append(g.pending, ev)
		g.mu.Unlock()
		return
	}
	consumer.inFlight++
	g.inFlight[ev.ID] = types.InFlightEvent{Event: ev, ConsumerID: consumer.id, RetryCount: g.retryCounts[ev.ID], DeliveredAt: time.Now()}
	g.mu.Unlock()

	select {
	case consumer.out <- &Delivery{Event: ev}:
	default:
		g.mu.Lock()
		delete(g.inFlight, ev.ID)
		consumer.inFlight--
		g.pending = append(g.pending, ev)
		g.mu.Unlock()
	}
}

// drainPending retries events queued by redeliver, stopping as soon as
// no consumer has free capacity; undelivered events stay in g.pending
// in their original order.
func (g *Group) drainPending() {
	for {
		g.mu.Lock()
		if len(g.pending) == 0 {
			g.mu.Unlock()
			return
		}
		ev := g.pending[0]
		consumer := selectConsumer(g.settings.NamedConsumerStrategy, g.consumers, g.order, &g.rrCursor, ev)
		if consumer == nil {
			g.mu.Unlock()
			return
		}
		g.pending = g.pending[1:]
		consumer.inFlight++
		g.inFlight[ev.ID] = types.InFlightEvent{Event: ev, ConsumerID: consumer.id, RetryCount: g.retryCounts[ev.ID], DeliveredAt: time.Now()}
		g.mu.Unlock()

		select {
		case consumer.out <- &Delivery{Event: ev}:
		default:
			g.mu.Lock()
			delete(g.inFlight, ev.ID)
			consumer.inFlight--
			g.pending = append([]types.Event{ev}, g.pending...)
			g.mu.Unlock()
			return
		}
	}
}

// connect registers a new consumer and returns its delivery channel.
func (g *Group) connect(consumerID string) (*consumerState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.settings.MaxSubscribers > 0 && len(g.order) >= g.settings.MaxSubscribers {
		return nil, fmt.Errorf("persistent: group %s/%s already has %d connected consumers", g.streamID, g.groupName, g.settings.MaxSubscribers)
	}
	c := &consumerState{id: consumerID, out: make(chan *Delivery, g.settings.LiveBufferSize), liveBufSz: g.settings.LiveBufferSize}
	g.consumers[consumerID] = c
	g.order = append(g.order, consumerID)
	g.nudgeLocked()
	return c, nil
}

func (g *Group) nudgeLocked() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// disconnect removes a consumer and redistributes its in-flight
// events to the remaining consumers.
func (g *Group) disconnect(consumerID string) {
	g.mu.Lock()
	var stranded []types.Event
	for id, e := range g.inFlight {
		if e.ConsumerID == consumerID {
			stranded = append(stranded, e.Event)
			delete(g.inFlight, id)
		}
	}
	delete(g.consumers, consumerID)
	for i, id := range g.order {
		if id == consumerID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.mu.Unlock()

	for _, ev := range stranded {
		g.redeliver(ev)
	}
	g.nudge()
}

// Checkpoint reports the group's current checkpoint event number.
func (g *Group) Checkpoint() types.EventNumber {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkpoint
}

func (g *Group) shutdown() {
	close(g.stop)
	<-g.done
}

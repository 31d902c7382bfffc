package subscribe

import (
	"testing"
	"time"

	"github.com/cuemby/eventstore/pkg/bus"
	"github.com/cuemby/eventstore/pkg/index"
	"github.com/cuemby/eventstore/pkg/reader"
	"github.com/cuemby/eventstore/pkg/txlog"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testHarness struct {
	dispatcher *Dispatcher
	broker     *bus.Broker
	log        *txlog.Log
	index      *index.Index
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	log, err := txlog.Open(txlog.Config{Dir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	idx, err := index.Open(index.Config{DataDir: t.TempDir()}, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	broker := bus.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	r := reader.New(log, idx)
	d := New(Config{QueueSize: 32, CatchUpBatchSize: 10, CheckpointEvery: 3}, r, broker, zerolog.Nop())

	return &testHarness{dispatcher: d, broker: broker, log: log, index: idx}
}

// appendOne writes a single event to streamID, through the log and
// index directly, and publishes it on the bus the way
// CoordinatorFSM.applyAppend does.
func (h *testHarness) appendOne(t *testing.T, streamID, eventType string) types.Event {
	t.Helper()
	tail := h.index.Tail(streamID)
	eventNumber := tail + 1
	if tail == types.NoStream {
		eventNumber = 0
	}
	now := time.Now().UTC()
	id := uuid.New()
	payload := txlog.EncodePrepare(txlog.PrepareRecord{
		StreamID:    streamID,
		EventNumber: eventNumber,
		EventID:     id,
		Flags:       txlog.FlagIsJSON,
		EventType:   eventType,
		CreatedAt:   now,
		Data:        []byte(`{}`),
	})
	pos, err := h.log.Append(payload)
	require.NoError(t, err)
	h.index.Insert(streamID, eventNumber, pos)

	ev := types.Event{ID: id, StreamID: streamID, EventNumber: eventNumber, Type: eventType, IsJSON: true, Data: []byte(`{}`), CreatedAt: now, Position: pos}
	h.broker.Publish(&bus.Committed{Event: ev, Position: pos, FirstEventNumber: eventNumber})
	return ev
}

func recvWithin(t *testing.T, out <-chan *Message, d time.Duration) *Message {
	t.Helper()
	select {
	case msg, ok := <-out:
		if !ok {
			t.Fatal("channel closed before a message arrived")
		}
		return msg
	case <-time.After(d):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestLiveSubscriptionReceivesEvents(t *testing.T) {
	h := newHarness(t)
	sub := h.dispatcher.SubscribeLive(types.FilterSpec{})

	h.appendOne(t, "orders-1", "OrderPlaced")

	msg := recvWithin(t, sub.Out, time.Second)
	require.Equal(t, MsgEventAppeared, msg.Kind)
	require.Equal(t, "OrderPlaced", msg.Event.Type)
}

func TestLiveSubscriptionFilter(t *testing.T) {
	h := newHarness(t)
	sub := h.dispatcher.SubscribeLive(types.FilterSpec{
		StreamIDPredicates: []types.PredicateSpec{{Kind: types.PredicatePrefix, Value: "orders-"}},
	})

	h.appendOne(t, "users-1", "UserCreated")
	h.appendOne(t, "orders-1", "OrderPlaced")

	msg := recvWithin(t, sub.Out, time.Second)
	require.Equal(t, "orders-1", msg.Event.StreamID)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	sub := h.dispatcher.SubscribeLive(types.FilterSpec{})
	sub.Unsubscribe()
	sub.Unsubscribe()

	msg, ok := <-sub.Out
	require.True(t, ok)
	require.Equal(t, MsgDropped, msg.Kind)
	require.Equal(t, types.DropUnsubscribed, msg.Reason)

	_, ok = <-sub.Out
	require.False(t, ok, "Out should be closed after Unsubscribe")
}

func TestCatchUpStreamReplaysHistoricalThenLive(t *testing.T) {
	h := newHarness(t)
	h.appendOne(t, "orders-1", "A")
	h.appendOne(t, "orders-1", "B")

	sub := h.dispatcher.SubscribeCatchUpStream("orders-1", types.NoStream)

	first := recvWithin(t, sub.Out, time.Second)
	require.Equal(t, "A", first.Event.Type)
	second := recvWithin(t, sub.Out, time.Second)
	require.Equal(t, "B", second.Event.Type)

	started := recvWithin(t, sub.Out, time.Second)
	require.Equal(t, MsgLiveProcessingStarted, started.Kind)

	h.appendOne(t, "orders-1", "C")
	live := recvWithin(t, sub.Out, time.Second)
	require.Equal(t, "C", live.Event.Type)
}

func TestCatchUpStreamIgnoresOtherStreams(t *testing.T) {
	h := newHarness(t)
	h.appendOne(t, "orders-1", "A")

	sub := h.dispatcher.SubscribeCatchUpStream("orders-1", types.NoStream)

	first := recvWithin(t, sub.Out, time.Second)
	require.Equal(t, "A", first.Event.Type)
	started := recvWithin(t, sub.Out, time.Second)
	require.Equal(t, MsgLiveProcessingStarted, started.Kind)

	h.appendOne(t, "users-1", "UserCreated")
	h.appendOne(t, "orders-1", "B")

	live := recvWithin(t, sub.Out, time.Second)
	require.Equal(t, "B", live.Event.Type)
}

func TestSubscriptionCount(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, 0, h.dispatcher.SubscriptionCount())
	sub := h.dispatcher.SubscribeLive(types.FilterSpec{})
	require.Equal(t, 1, h.dispatcher.SubscriptionCount())
	sub.Unsubscribe()
}

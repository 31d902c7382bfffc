package persistent

import (
	"testing"
	"time"

	"github.com/cuemby/eventstore/pkg/index"
	"github.com/cuemby/eventstore/pkg/reader"
	"github.com/cuemby/eventstore/pkg/txlog"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// testAppender is a minimal Appender backed by a real txlog.Log and
// index.Index, used in place of coordinator.Coordinator so these tests
// don't need raft.
type testAppender struct {
	log *txlog.Log
	idx *index.Index
}

func (a *testAppender) Append(streamID string, _ types.EventNumber, events []types.ProposedEvent) (types.LogPosition, types.EventNumber, error) {
	tail := a.idx.Tail(streamID)
	first := tail + 1
	if tail == types.NoStream {
		first = 0
	}
	now := time.Now().UTC()
	var lastPos types.LogPosition
	for i, pe := range events {
		eventNumber := first + types.EventNumber(i)
		payload := txlog.EncodePrepare(txlog.PrepareRecord{
			StreamID:    streamID,
			EventNumber: eventNumber,
			EventID:     pe.ID,
			EventType:   pe.Type,
			CreatedAt:   now,
			Data:        pe.Data,
			Metadata:    pe.Metadata,
		})
		pos, err := a.log.Append(payload)
		if err != nil {
			return types.LogPosition{}, 0, err
		}
		a.idx.Insert(streamID, eventNumber, pos)
		lastPos = pos
	}
	return lastPos, first, nil
}

type testHarness struct {
	engine   *Engine
	appender *testAppender
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	log, err := txlog.Open(txlog.Config{Dir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	idx, err := index.Open(index.Config{DataDir: t.TempDir()}, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	appender := &testAppender{log: log, idx: idx}
	r := reader.New(log, idx)
	engine := New(r, appender, zerolog.Nop())
	return &testHarness{engine: engine, appender: appender}
}

func (h *testHarness) appendOne(t *testing.T, streamID, eventType string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, _, err := h.appender.Append(streamID, types.Any, []types.ProposedEvent{{ID: id, Type: eventType, Data: []byte(`{}`)}})
	require.NoError(t, err)
	return id
}

func defaultSettings() types.PersistentSubscriptionSettings {
	return types.PersistentSubscriptionSettings{
		StartFrom:             types.ExactVersion(0),
		MessageTimeout:        int64(200 * time.Millisecond),
		MaxRetries:            2,
		LiveBufferSize:        10,
		ReadBatchSize:         10,
		CheckpointAfter:       int64(5 * time.Millisecond),
		MinCheckpointCount:    1,
		MaxCheckpointCount:    100,
		NamedConsumerStrategy: types.StrategyRoundRobin,
	}
}

func recvDelivery(t *testing.T, ch <-chan *Delivery, d time.Duration) *Delivery {
	t.Helper()
	select {
	case del := <-ch:
		return del
	case <-time.After(d):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestCreateConnectDeliversAndAcks(t *testing.T) {
	h := newHarness(t)
	h.appendOne(t, "orders-1", "OrderPlaced")

	require.NoError(t, h.engine.Create("orders-1", "billing", defaultSettings(), types.FilterSpec{}))
	t.Cleanup(func() { _ = h.engine.Delete("orders-1", "billing") })

	session, err := h.engine.Connect("orders-1", "billing", "consumer-1")
	require.NoError(t, err)

	del := recvDelivery(t, session.Events, 2*time.Second)
	require.Equal(t, "OrderPlaced", del.Event.Type)

	session.Ack([]uuid.UUID{del.Event.ID})

	require.Eventually(t, func() bool {
		return h.engine.Group("orders-1", "billing").Checkpoint() == types.ExactVersion(0)
	}, time.Second, 10*time.Millisecond)
}

func TestConnectToMissingGroupFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Connect("orders-1", "missing", "consumer-1")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestNackRetryThenPark(t *testing.T) {
	h := newHarness(t)
	h.appendOne(t, "q", "Task")

	settings := defaultSettings()
	settings.MaxRetries = 1
	require.NoError(t, h.engine.Create("q", "workers", settings, types.FilterSpec{}))
	t.Cleanup(func() { _ = h.engine.Delete("q", "workers") })

	session, err := h.engine.Connect("q", "workers", "consumer-1")
	require.NoError(t, err)

	first := recvDelivery(t, session.Events, 2*time.Second)
	session.Nack([]uuid.UUID{first.Event.ID}, types.NackRetry)

	second := recvDelivery(t, session.Events, 2*time.Second)
	require.Equal(t, first.Event.ID, second.Event.ID)
	session.Nack([]uuid.UUID{second.Event.ID}, types.NackRetry)

	require.Eventually(t, func() bool {
		return h.engine.Group("q", "workers").Checkpoint() == types.ExactVersion(0)
	}, 2*time.Second, 10*time.Millisecond)

	slice, err := reader.New(h.appender.log, h.appender.idx).ReadStreamForward(parkStreamName("q", "workers"), types.ExactVersion(0), 10, false)
	require.NoError(t, err)
	require.Len(t, slice.Events, 1)
}

func TestDisconnectRedistributesInFlight(t *testing.T) {
	h := newHarness(t)
	h.appendOne(t, "q", "Task")

	settings := defaultSettings()
	settings.NamedConsumerStrategy = types.StrategyDispatchToSingle
	require.NoError(t, h.engine.Create("q", "workers", settings, types.FilterSpec{}))
	t.Cleanup(func() { _ = h.engine.Delete("q", "workers") })

	s1, err := h.engine.Connect("q", "workers", "consumer-1")
	require.NoError(t, err)
	s2, err := h.engine.Connect("q", "workers", "consumer-2")
	require.NoError(t, err)

	del := recvDelivery(t, s1.Events, 2*time.Second)
	s1.Close()

	redelivered := recvDelivery(t, s2.Events, 2*time.Second)
	require.Equal(t, del.Event.ID, redelivered.Event.ID)
	s2.Ack([]uuid.UUID{redelivered.Event.ID})
}

func TestMaxSubscribersEnforced(t *testing.T) {
	h := newHarness(t)
	settings := defaultSettings()
	settings.MaxSubscribers = 1
	require.NoError(t, h.engine.Create("q", "workers", settings, types.FilterSpec{}))
	t.Cleanup(func() { _ = h.engine.Delete("q", "workers") })

	_, err := h.engine.Connect("q", "workers", "consumer-1")
	require.NoError(t, err)
	_, err = h.engine.Connect("q", "workers", "consumer-2")
	require.Error(t, err)
}

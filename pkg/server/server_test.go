package server

import (
	"testing"
	"time"

	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(Config{
		NodeID:   "node-1",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv
}

func TestAppendAndReadStream(t *testing.T) {
	srv := newTestServer(t)

	pos, eventNumber, err := srv.Append("orders-1", types.NoStream, []types.ProposedEvent{
		{ID: uuid.New(), Type: "OrderPlaced", Data: []byte(`{"id":1}`)},
	})
	require.NoError(t, err)
	require.Equal(t, types.EventNumber(0), eventNumber)
	require.False(t, pos.Less(types.ZeroPosition))

	slice, err := srv.ReadStreamForward("orders-1", 0, 10, false)
	require.NoError(t, err)
	require.Len(t, slice.Events, 1)
	require.Equal(t, "OrderPlaced", slice.Events[0].Type)
}

func TestSubscribeLiveReceivesAppend(t *testing.T) {
	srv := newTestServer(t)

	sub := srv.SubscribeLive(types.FilterSpec{})
	defer srv.Unsubscribe(sub)

	_, _, err := srv.Append("orders-2", types.NoStream, []types.ProposedEvent{
		{ID: uuid.New(), Type: "OrderPlaced", Data: []byte(`{}`)},
	})
	require.NoError(t, err)

	select {
	case msg := <-sub.Out:
		require.Equal(t, "orders-2", msg.Event.StreamID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live subscription message")
	}
}

func TestPersistentGroupLifecycle(t *testing.T) {
	srv := newTestServer(t)

	_, _, err := srv.Append("orders-3", types.NoStream, []types.ProposedEvent{
		{ID: uuid.New(), Type: "OrderPlaced", Data: []byte(`{}`)},
	})
	require.NoError(t, err)

	settings := types.PersistentSubscriptionSettings{
		StartFrom:          types.ExactVersion(0),
		MessageTimeout:     int64(5 * time.Second),
		MaxRetries:         3,
		LiveBufferSize:     10,
		ReadBatchSize:      10,
		HistoryBufferSize:  10,
		CheckpointAfter:    int64(time.Second),
		MinCheckpointCount: 1,
		MaxCheckpointCount: 10,
	}
	require.NoError(t, srv.CreatePersistentGroup("orders-3", "workers", settings, types.FilterSpec{}))

	session, err := srv.ConnectPersistent("orders-3", "workers", "consumer-1")
	require.NoError(t, err)

	select {
	case delivery := <-session.Events:
		require.Equal(t, "orders-3", delivery.Event.StreamID)
		session.Ack([]uuid.UUID{delivery.Event.ID})
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for persistent delivery")
	}

	require.NoError(t, srv.DeletePersistentGroup("orders-3", "workers"))
}

package bus

import (
	"testing"
	"time"

	"github.com/cuemby/eventstore/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Publish(&Committed{Event: types.Event{StreamID: "s"}, Position: types.LogPosition{Commit: 1}})

	select {
	case msg := <-sub:
		require.Equal(t, "s", msg.Event.StreamID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	require.NotPanics(t, func() { b.Unsubscribe(sub) })
}

func TestSubscriberCount(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	require.Equal(t, 0, b.SubscriberCount())
	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe() // never drained
	fast := b.Subscribe()

	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(&Committed{Position: types.LogPosition{Commit: int64(i)}})
	}

	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved by slow one")
	}
	_ = slow
}

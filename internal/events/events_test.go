package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: CommitApplied, WorkspaceID: "ws-1"})

	select {
	case ev := <-sub:
		require.Equal(t, CommitApplied, ev.Type)
		require.Equal(t, "ws-1", ev.WorkspaceID)
		require.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())

	b.Publish(&Event{Type: GCCompleted})
	// sub is closed; reading from a closed channel yields the zero value
	// immediately rather than blocking.
	select {
	case ev, ok := <-sub:
		require.False(t, ok)
		require.Nil(t, ev)
	case <-time.After(time.Second):
		t.Fatal("closed subscriber channel should not block")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	require.Equal(t, 0, b.SubscriberCount())
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())

	b.Unsubscribe(s1)
	b.Unsubscribe(s2)
	require.Equal(t, 0, b.SubscriberCount())
}

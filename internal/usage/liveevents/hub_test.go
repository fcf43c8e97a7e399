package liveevents

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	hub := NewHub()
	hub.Publish(ConsumeEvent{TenantID: 1, Dimension: "api_calls", Amount: 1})

	sub, buffered, err := hub.Subscribe(1)
	require.NoError(t, err)
	defer sub.Close()
	require.Empty(t, buffered)
}

func TestSubscriberReceivesTenantEvents(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe(snowflake.ID(7))
	require.NoError(t, err)
	defer sub.Close()

	hub.Publish(ConsumeEvent{TenantID: 8, Dimension: "api_calls", Amount: 1})
	hub.Publish(ConsumeEvent{TenantID: 7, Dimension: "api_calls", Amount: 2, Allowed: true})

	select {
	case ev := <-sub.Events():
		require.Equal(t, snowflake.ID(7), ev.TenantID)
		require.Equal(t, int64(2), ev.Amount)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestLateSubscriberGetsBuffer(t *testing.T) {
	hub := NewHub()
	first, _, err := hub.Subscribe(3)
	require.NoError(t, err)
	defer first.Close()

	for i := 0; i < DefaultBufferSize+5; i++ {
		hub.Publish(ConsumeEvent{TenantID: 3, Amount: int64(i)})
	}

	second, buffered, err := hub.Subscribe(3)
	require.NoError(t, err)
	defer second.Close()
	require.Len(t, buffered, DefaultBufferSize)
	require.Equal(t, int64(5), buffered[0].Amount)
}

func TestCloseDropsEmptyStream(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe(4)
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	require.Empty(t, hub.streams)
}

func TestNilHub(t *testing.T) {
	var hub *Hub
	hub.Publish(ConsumeEvent{TenantID: 1})
	_, _, err := hub.Subscribe(1)
	require.ErrorIs(t, err, ErrHubUnavailable)
}

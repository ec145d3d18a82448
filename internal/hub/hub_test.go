package hub

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New(zap.NewNop())
	topic := uuid.New()

	first := h.Subscribe(topic)
	second := h.Subscribe(topic)
	other := h.Subscribe(uuid.New())

	h.Publish(topic, ErrorEvent("boom"))

	require.Len(t, first.Events(), 1)
	require.Len(t, second.Events(), 1)
	require.Len(t, other.Events(), 0)

	event := <-first.Events()
	require.Equal(t, EventError, event.Type)
	require.Equal(t, "boom", event.Message)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New(zap.NewNop())
	topic := uuid.New()

	sub := h.Subscribe(topic)
	require.Equal(t, 1, h.SubscriberCount(topic))

	h.Unsubscribe(sub)
	require.Equal(t, 0, h.SubscriberCount(topic))

	// The stream is closed so a range over it terminates.
	_, open := <-sub.Events()
	require.False(t, open)

	// Publishing to the empty topic is a no-op.
	h.Publish(topic, Warning("nobody home"))
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	h := New(zap.NewNop())
	sub := h.Subscribe(uuid.New())

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := New(zap.NewNop())
	topic := uuid.New()
	sub := h.Subscribe(topic)

	// Overflow the buffer; Publish must never block.
	for i := 0; i < subscriptionBuffer+5; i++ {
		h.Publish(topic, Warning("w"))
	}

	require.Len(t, sub.Events(), subscriptionBuffer)
}

// Package hub is the per-conversation publish/subscribe registry. A topic is
// a conversation id; subscribers are live socket connections.
package hub

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const subscriptionBuffer = 16

// Subscription is one subscriber handle on a conversation topic.
type Subscription struct {
	id             uint64
	conversationID uuid.UUID
	events         chan Event
}

// Events is the stream of events published to the topic while this
// subscription is live.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// ConversationID returns the topic this subscription is joined to.
func (s *Subscription) ConversationID() uuid.UUID {
	return s.conversationID
}

// Hub maps conversation ids to their active subscribers.
type Hub struct {
	mu     sync.RWMutex
	topics map[uuid.UUID]map[uint64]*Subscription
	nextID uint64
	logger *zap.Logger
}

func New(logger *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[uuid.UUID]map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscribe joins the conversation topic and returns a live handle. The
// caller must Unsubscribe when the connection goes away, or the topic keeps
// a dead handle.
func (h *Hub) Subscribe(conversationID uuid.UUID) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:             h.nextID,
		conversationID: conversationID,
		events:         make(chan Event, subscriptionBuffer),
	}

	subs, exists := h.topics[conversationID]
	if !exists {
		subs = make(map[uint64]*Subscription)
		h.topics[conversationID] = subs
	}
	subs[sub.id] = sub

	return sub
}

// Unsubscribe removes the handle from its topic and closes its event stream.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, exists := h.topics[sub.conversationID]
	if !exists {
		return
	}
	if _, member := subs[sub.id]; !member {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.topics, sub.conversationID)
	}
	close(sub.events)
}

// Publish fans the event out to every subscriber of the conversation topic.
// A subscriber that cannot keep up has the event dropped rather than
// blocking the publisher.
func (h *Hub) Publish(conversationID uuid.UUID, event Event) {
	h.mu.RLock()
	snapshot := make([]*Subscription, 0, len(h.topics[conversationID]))
	for _, sub := range h.topics[conversationID] {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	for _, sub := range snapshot {
		select {
		case sub.events <- event:
		default:
			h.logger.Warn("Dropping event for slow subscriber",
				zap.String("conversation_id", conversationID.String()),
				zap.String("event_type", string(event.Type)))
		}
	}
}

// SubscriberCount reports the number of live handles on a topic.
func (h *Hub) SubscriberCount(conversationID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[conversationID])
}

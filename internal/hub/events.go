package hub

import (
	"github.com/kotaroy/painlog/internal/models"
)

// EventType names the server → client event frames.
type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventUserMessage           EventType = "user_message"
	EventAIMessage             EventType = "ai_message"
	EventMessageSent           EventType = "message_sent"
	EventWarning               EventType = "warning"
	EventError                 EventType = "error"
)

// Event is one server → client frame. Message carries either a
// *models.Message (user_message, ai_message) or an explanatory string
// (warning, error), mirroring the wire protocol.
type Event struct {
	Type           EventType                 `json:"type"`
	ConversationID string                    `json:"conversation_id,omitempty"`
	Status         models.ConversationStatus `json:"status,omitempty"`
	MessageID      string                    `json:"message_id,omitempty"`
	Message        any                       `json:"message,omitempty"`
	MonthlyCost    float64                   `json:"monthly_cost,omitempty"`
	Limit          float64                   `json:"limit,omitempty"`
	RetryAfter     float64                   `json:"retry_after,omitempty"`
}

func ConnectionEstablished(conv *models.Conversation) Event {
	return Event{
		Type:           EventConnectionEstablished,
		ConversationID: conv.ID.String(),
		Status:         conv.Status,
	}
}

func UserMessage(msg *models.Message) Event {
	return Event{Type: EventUserMessage, Message: msg}
}

func AIMessage(msg *models.Message) Event {
	return Event{Type: EventAIMessage, Message: msg}
}

func MessageSent(msg *models.Message) Event {
	return Event{
		Type:      EventMessageSent,
		MessageID: msg.ID.String(),
		Status:    "generating",
	}
}

func Warning(text string) Event {
	return Event{Type: EventWarning, Message: text}
}

func ErrorEvent(text string) Event {
	return Event{Type: EventError, Message: text}
}

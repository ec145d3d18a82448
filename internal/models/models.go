package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversationStatus is the lifecycle state of an AI conversation.
type ConversationStatus string

const (
	StatusActive           ConversationStatus = "active"
	StatusCompleted        ConversationStatus = "completed"
	StatusError            ConversationStatus = "error"
	StatusCostLimitReached ConversationStatus = "cost_limit_reached"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Request types recorded in the usage ledger.
const (
	RequestTypeConversation = "conversation"
	RequestTypeDeepening    = "deepening_questions"
)

// User represents an account that owns pain points and conversations.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// PainPoint is the user-authored record an AI conversation discusses.
type PainPoint struct {
	ID          uuid.UUID `json:"id"`
	UserID      int64     `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Importance  int       `json:"importance"`
	Urgency     int       `json:"urgency"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation is one AI dialogue thread, tied 1:1 to a pain point.
type Conversation struct {
	ID          uuid.UUID          `json:"id"`
	UserID      int64              `json:"user_id"`
	PainPointID uuid.UUID          `json:"pain_point_id"`
	Status      ConversationStatus `json:"status"`
	TotalTokens int                `json:"total_tokens"`
	TotalCost   float64            `json:"total_cost"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Active reports whether the conversation still accepts user messages.
func (c *Conversation) Active() bool {
	return c.Status == StatusActive
}

// Message is a single turn in a conversation. Immutable once created.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Sender         Sender    `json:"sender_type"`
	Content        string    `json:"content"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	CreatedAt      time.Time `json:"created_at"`
}

// UsageRecord is one append-only ledger row for an AI call.
type UsageRecord struct {
	ID           uuid.UUID         `json:"id"`
	UserID       int64             `json:"user_id"`
	Model        string            `json:"model"`
	RequestType  string            `json:"request_type"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
	TotalTokens  int               `json:"total_tokens"`
	Cost         float64           `json:"cost"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

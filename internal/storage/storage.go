package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kotaroy/painlog/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConversationExists is returned when a conversation already exists for
// the (user, pain point) pair.
var ErrConversationExists = errors.New("conversation already exists for pain point")

type Storage interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetPainPoint(ctx context.Context, id uuid.UUID) (*models.PainPoint, error)

	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	GetConversationByPainPoint(ctx context.Context, userID int64, painPointID uuid.UUID) (*models.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error
	// AddConversationUsage increments total_tokens and total_cost atomically
	// at the store, so concurrent workers on one conversation never lose
	// updates.
	AddConversationUsage(ctx context.Context, id uuid.UUID, tokens int, cost float64) error

	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessagesByConversation(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error)

	CreateUsageRecord(ctx context.Context, rec *models.UsageRecord) error
	// MonthlyCost sums the cost of the user's ledger rows within the
	// calendar month containing at.
	MonthlyCost(ctx context.Context, userID int64, at time.Time) (float64, error)

	IsTokenRevoked(ctx context.Context, jti string, now time.Time) (bool, error)
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	CleanupExpiredRevocations(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

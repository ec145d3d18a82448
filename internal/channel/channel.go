// Package channel implements the conversation channel: it validates and
// persists inbound user messages, enforces the rate limiter and cost gate,
// enqueues generation work, and fans events out through the hub.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kotaroy/painlog/internal/hub"
	"github.com/kotaroy/painlog/internal/models"
	"github.com/kotaroy/painlog/internal/ratelimit"
	"github.com/kotaroy/painlog/internal/storage"
	"github.com/kotaroy/painlog/internal/usage"
	"github.com/kotaroy/painlog/internal/worker"
)

// Rejections SendMessage resolves locally; none of them reach the worker.
var (
	ErrNotFound     = errors.New("conversation not found")
	ErrNotActive    = errors.New("conversation is not active")
	ErrEmptyContent = errors.New("message content is empty")
)

// RateLimitedError carries the remaining window time for the 429 response.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// CostLimitError signals the monthly cap distinctly from generic errors.
type CostLimitError struct {
	MonthlyCost float64
	Limit       float64
}

func (e *CostLimitError) Error() string {
	return fmt.Sprintf("monthly API cost limit reached (%.4f of %.4f)", e.MonthlyCost, e.Limit)
}

// Channel drives the send-message pipeline for one service instance.
type Channel struct {
	storage storage.Storage
	limiter *ratelimit.Limiter
	ledger  *usage.Ledger
	hub     *hub.Hub
	queue   *worker.Queue
	logger  *zap.Logger
}

func New(storage storage.Storage, limiter *ratelimit.Limiter, ledger *usage.Ledger, h *hub.Hub, queue *worker.Queue, logger *zap.Logger) *Channel {
	return &Channel{
		storage: storage,
		limiter: limiter,
		ledger:  ledger,
		hub:     h,
		queue:   queue,
		logger:  logger,
	}
}

// Subscribe verifies ownership, joins the conversation topic, and returns
// the subscription plus the connection confirmation event.
func (c *Channel) Subscribe(ctx context.Context, user *models.User, conversationID uuid.UUID) (*hub.Subscription, hub.Event, error) {
	conv, err := c.loadOwned(ctx, user, conversationID)
	if err != nil {
		return nil, hub.Event{}, err
	}

	sub := c.hub.Subscribe(conv.ID)
	return sub, hub.ConnectionEstablished(conv), nil
}

// Unsubscribe releases a subscription handle.
func (c *Channel) Unsubscribe(sub *hub.Subscription) {
	c.hub.Unsubscribe(sub)
}

// SendMessage runs the synchronous fast path: status gate, rate limit, cost
// gate, persist, broadcast, enqueue. The returned message is the ack; the
// AI reply arrives later through the topic.
func (c *Channel) SendMessage(ctx context.Context, user *models.User, conversationID uuid.UUID, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	conv, err := c.loadOwned(ctx, user, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Active() {
		return nil, ErrNotActive
	}

	if err := c.checkRateLimit(ctx, user, ratelimit.ActionConversation); err != nil {
		return nil, err
	}

	if err := c.checkCostGate(ctx, user, conv); err != nil {
		return nil, err
	}

	userMessage := &models.Message{
		ConversationID: conv.ID,
		Sender:         models.SenderUser,
		Content:        content,
	}
	if err := c.storage.CreateMessage(ctx, userMessage); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	// The user message is persisted and broadcast strictly before its AI
	// reply is enqueued.
	c.hub.Publish(conv.ID, hub.UserMessage(userMessage))

	if err := c.queue.Enqueue(worker.Unit{
		Kind:           worker.UnitConversation,
		ConversationID: conv.ID,
		MessageID:      userMessage.ID,
	}); err != nil {
		c.logger.Error("Failed to enqueue generation unit", zap.Error(err),
			zap.String("conversation_id", conv.ID.String()))
		return nil, fmt.Errorf("enqueueing generation: %w", err)
	}

	return userMessage, nil
}

// StartConversation finds the conversation for the pain point or creates it
// and enqueues the initial deepening questions. The created flag tells the
// caller whether this was a fresh conversation.
func (c *Channel) StartConversation(ctx context.Context, user *models.User, painPointID uuid.UUID) (*models.Conversation, bool, error) {
	painPoint, err := c.storage.GetPainPoint(ctx, painPointID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading pain point: %w", err)
	}
	if painPoint.UserID != user.ID {
		return nil, false, ErrNotFound
	}

	if conv, err := c.storage.GetConversationByPainPoint(ctx, user.ID, painPointID); err == nil {
		return conv, false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("loading conversation: %w", err)
	}

	if err := c.checkRateLimit(ctx, user, ratelimit.ActionDeepening); err != nil {
		return nil, false, err
	}
	if ok, err := c.ledger.CanConsume(ctx, user.ID); err != nil {
		return nil, false, fmt.Errorf("checking cost gate: %w", err)
	} else if !ok {
		monthlyCost, _ := c.ledger.MonthlyCost(ctx, user.ID)
		return nil, false, &CostLimitError{MonthlyCost: monthlyCost, Limit: c.ledger.Cap()}
	}

	conv := &models.Conversation{
		UserID:      user.ID,
		PainPointID: painPointID,
		Status:      models.StatusActive,
	}
	if err := c.storage.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, storage.ErrConversationExists) {
			// Lost a create race; the winner's conversation is the one.
			existing, lookupErr := c.storage.GetConversationByPainPoint(ctx, user.ID, painPointID)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("loading conversation after create race: %w", lookupErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("creating conversation: %w", err)
	}

	if err := c.queue.Enqueue(worker.Unit{
		Kind:           worker.UnitDeepening,
		ConversationID: conv.ID,
	}); err != nil {
		c.logger.Error("Failed to enqueue deepening unit", zap.Error(err),
			zap.String("conversation_id", conv.ID.String()))
	}

	return conv, true, nil
}

// GetConversation returns an owned conversation with its messages.
func (c *Channel) GetConversation(ctx context.Context, user *models.User, conversationID uuid.UUID) (*models.Conversation, []*models.Message, error) {
	conv, err := c.loadOwned(ctx, user, conversationID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := c.storage.GetMessagesByConversation(ctx, conv.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading messages: %w", err)
	}
	return conv, messages, nil
}

// loadOwned loads a conversation and hides other users' conversations
// behind not-found.
func (c *Channel) loadOwned(ctx context.Context, user *models.User, conversationID uuid.UUID) (*models.Conversation, error) {
	conv, err := c.storage.GetConversation(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if conv.UserID != user.ID {
		return nil, ErrNotFound
	}
	return conv, nil
}

func (c *Channel) checkRateLimit(ctx context.Context, user *models.User, action string) error {
	exceeded, err := c.limiter.Exceeded(ctx, user.ID, action)
	if err != nil {
		// Fail closed: an unreachable counter store rejects the action.
		c.logger.Error("Rate limiter unavailable", zap.Error(err),
			zap.Int64("user_id", user.ID))
		return &RateLimitedError{RetryAfter: 0}
	}
	if exceeded {
		return &RateLimitedError{RetryAfter: c.limiter.TimeUntilReset(ctx, user.ID, action)}
	}
	if _, err := c.limiter.Record(ctx, user.ID, action); err != nil {
		c.logger.Error("Rate limiter record failed", zap.Error(err),
			zap.Int64("user_id", user.ID))
	}
	return nil
}

// checkCostGate rejects when the monthly cap is reached and transitions the
// conversation so no further generation is attempted for it.
func (c *Channel) checkCostGate(ctx context.Context, user *models.User, conv *models.Conversation) error {
	ok, err := c.ledger.CanConsume(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("checking cost gate: %w", err)
	}
	if ok {
		return nil
	}

	if err := c.storage.UpdateConversationStatus(ctx, conv.ID, models.StatusCostLimitReached); err != nil {
		c.logger.Error("Failed to transition conversation to cost_limit_reached",
			zap.Error(err), zap.String("conversation_id", conv.ID.String()))
	}

	monthlyCost, _ := c.ledger.MonthlyCost(ctx, user.ID)
	return &CostLimitError{MonthlyCost: monthlyCost, Limit: c.ledger.Cap()}
}

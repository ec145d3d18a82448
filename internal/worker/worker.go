// Package worker consumes enqueued generation units, calls the LLM client,
// and accounts for every call in the usage ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kotaroy/painlog/internal/hub"
	"github.com/kotaroy/painlog/internal/llm"
	"github.com/kotaroy/painlog/internal/models"
	"github.com/kotaroy/painlog/internal/storage"
	"github.com/kotaroy/painlog/internal/usage"
)

const (
	msgUpstreamRateLimited = "Rate limit exceeded. Please try again later."
	msgUpstreamFailure     = "AI service error"
	msgUnexpectedFailure   = "An unexpected error occurred"
	msgCostWarning         = "You are approaching your monthly API cost limit"
)

// Pool runs generation workers over a shared queue. Generation is not
// serialized per conversation: two units for the same conversation may run
// concurrently, which is why aggregate updates go through atomic store
// increments.
type Pool struct {
	queue   *Queue
	storage storage.Storage
	ledger  *usage.Ledger
	client  llm.Client
	hub     *hub.Hub
	logger  *zap.Logger
	workers int

	wg sync.WaitGroup
}

func NewPool(queue *Queue, storage storage.Storage, ledger *usage.Ledger, client llm.Client, h *hub.Hub, workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:   queue,
		storage: storage,
		ledger:  ledger,
		client:  client,
		hub:     h,
		logger:  logger,
		workers: workers,
	}
}

// Start launches the workers. They stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case unit := <-p.queue.Units():
					p.Process(ctx, unit)
				}
			}
		}()
	}
}

// Wait blocks until all workers have stopped.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Process handles one generation unit end to end. Every failure path ends
// in a status decision plus a broadcast error event; nothing terminates
// silently.
func (p *Pool) Process(ctx context.Context, unit Unit) {
	conv, err := p.storage.GetConversation(ctx, unit.ConversationID)
	if errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn("Generation unit for missing conversation",
			zap.String("conversation_id", unit.ConversationID.String()))
		return
	}
	if err != nil {
		p.logger.Error("Failed to load conversation", zap.Error(err),
			zap.String("conversation_id", unit.ConversationID.String()))
		return
	}
	if !conv.Active() {
		return
	}

	reply, inputTokens, err := p.generate(ctx, conv, unit)
	if err != nil {
		p.handleFailure(ctx, conv, err)
		return
	}
	outputTokens := estimateTokens(reply)

	monthlyBefore, err := p.ledger.MonthlyCost(ctx, conv.UserID)
	if err != nil {
		p.logger.Error("Failed to read monthly cost", zap.Error(err),
			zap.Int64("user_id", conv.UserID))
		monthlyBefore = 0
	}

	requestType := models.RequestTypeConversation
	if unit.Kind == UnitDeepening {
		requestType = models.RequestTypeDeepening
	}
	metadata := map[string]string{"conversation_id": conv.ID.String()}
	if unit.MessageID != uuid.Nil {
		metadata["message_id"] = unit.MessageID.String()
	}

	rec, err := p.ledger.RecordUsage(ctx, conv.UserID, p.client.Model(), requestType, inputTokens, outputTokens, metadata)
	if err != nil {
		p.handleFailure(ctx, conv, err)
		return
	}

	aiMessage := &models.Message{
		ConversationID: conv.ID,
		Sender:         models.SenderAI,
		Content:        reply,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
	}
	if err := p.storage.CreateMessage(ctx, aiMessage); err != nil {
		p.handleFailure(ctx, conv, err)
		return
	}

	if err := p.storage.AddConversationUsage(ctx, conv.ID, inputTokens+outputTokens, rec.Cost); err != nil {
		p.logger.Error("Failed to update conversation aggregates", zap.Error(err),
			zap.String("conversation_id", conv.ID.String()))
	}

	p.hub.Publish(conv.ID, hub.AIMessage(aiMessage))

	if p.ledger.ApproachingCap(monthlyBefore + rec.Cost) {
		p.hub.Publish(conv.ID, hub.Warning(msgCostWarning))
	}
}

// generate re-loads the conversation history at call time (not a snapshot
// taken at enqueue time) and calls the provider.
func (p *Pool) generate(ctx context.Context, conv *models.Conversation, unit Unit) (string, int, error) {
	painPoint, err := p.storage.GetPainPoint(ctx, conv.PainPointID)
	if err != nil {
		return "", 0, fmt.Errorf("loading pain point: %w", err)
	}

	var prompt []llm.Message
	switch unit.Kind {
	case UnitDeepening:
		prompt = llm.DeepeningPrompt(painPoint)
	default:
		messages, err := p.storage.GetMessagesByConversation(ctx, conv.ID)
		if err != nil {
			return "", 0, fmt.Errorf("loading history: %w", err)
		}
		history := make([]llm.Message, 0, len(messages))
		for _, msg := range messages {
			history = append(history, llm.HistoryMessage(msg))
		}
		prompt = llm.ConversationPrompt(painPoint, history)
	}

	reply, err := p.client.Complete(ctx, prompt)
	if err != nil {
		return "", 0, err
	}

	return reply, estimateMessagesTokens(prompt), nil
}

// handleFailure decides the conversation's status transition and broadcasts
// the error event. Provider rate limits are transient: the conversation
// stays active and the user may retry. Everything else parks the
// conversation in error until a new one is created for the topic.
func (p *Pool) handleFailure(ctx context.Context, conv *models.Conversation, err error) {
	p.logger.Error("Generation failed", zap.Error(err),
		zap.String("conversation_id", conv.ID.String()),
		zap.Int64("user_id", conv.UserID))

	var llmErr *llm.Error
	if errors.As(err, &llmErr) && llmErr.Kind == llm.KindRateLimit {
		p.hub.Publish(conv.ID, hub.ErrorEvent(msgUpstreamRateLimited))
		return
	}

	message := msgUnexpectedFailure
	if llmErr != nil {
		message = fmt.Sprintf("%s: %s", msgUpstreamFailure, llmErr.Kind)
	}

	if err := p.storage.UpdateConversationStatus(ctx, conv.ID, models.StatusError); err != nil {
		p.logger.Error("Failed to transition conversation to error", zap.Error(err),
			zap.String("conversation_id", conv.ID.String()))
	}
	p.hub.Publish(conv.ID, hub.ErrorEvent(message))
}

// estimateTokens uses the rough 1 token ≈ 4 characters heuristic.
func estimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + 3) / 4
}

func estimateMessagesTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimateTokens(msg.Content)
	}
	return total
}

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kotaroy/painlog/internal/models"
)

func seedConversation(t *testing.T, store *MemoryStorage) *models.Conversation {
	t.Helper()

	user := &models.User{ID: 1, Name: "mika", Email: "mika@example.com"}
	store.AddUser(user)

	painPoint := &models.PainPoint{ID: uuid.New(), UserID: user.ID, Title: "Slow builds", Description: "CI takes forever"}
	store.AddPainPoint(painPoint)

	conv := &models.Conversation{UserID: user.ID, PainPointID: painPoint.ID, Status: models.StatusActive}
	require.NoError(t, store.CreateConversation(context.Background(), conv))
	return conv
}

func TestMessageOrderIsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	conv := seedConversation(t, store)

	// Burst inserts land within the same clock tick; order must still be
	// the insertion order.
	ids := make([]uuid.UUID, 0, 10)
	for i := 0; i < 10; i++ {
		msg := &models.Message{ConversationID: conv.ID, Sender: models.SenderUser, Content: fmt.Sprintf("m%d", i)}
		require.NoError(t, store.CreateMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	messages, err := store.GetMessagesByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 10)
	for i, msg := range messages {
		require.Equal(t, ids[i], msg.ID, "position %d", i)
		require.False(t, msg.CreatedAt.IsZero())
	}
}

func TestConversationUniquePerPainPoint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	conv := seedConversation(t, store)

	dup := &models.Conversation{UserID: conv.UserID, PainPointID: conv.PainPointID, Status: models.StatusActive}
	require.ErrorIs(t, store.CreateConversation(ctx, dup), ErrConversationExists)

	found, err := store.GetConversationByPainPoint(ctx, conv.UserID, conv.PainPointID)
	require.NoError(t, err)
	require.Equal(t, conv.ID, found.ID)
}

func TestAddConversationUsageAccumulates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	conv := seedConversation(t, store)

	require.NoError(t, store.AddConversationUsage(ctx, conv.ID, 100, 0.5))
	require.NoError(t, store.AddConversationUsage(ctx, conv.ID, 50, 0.25))

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, 150, got.TotalTokens)
	require.InDelta(t, 0.75, got.TotalCost, 1e-12)
}

func TestMonthlyCostWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	rows := []struct {
		cost float64
		at   time.Time
	}{
		{1.0, now},
		{2.0, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)},
		{4.0, time.Date(2026, time.February, 28, 23, 59, 59, 0, time.UTC)},
		{8.0, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, row := range rows {
		require.NoError(t, store.CreateUsageRecord(ctx, &models.UsageRecord{
			UserID:    1,
			Model:     "x",
			Cost:      row.cost,
			CreatedAt: row.at,
		}))
	}

	cost, err := store.MonthlyCost(ctx, 1, now)
	require.NoError(t, err)
	require.InDelta(t, 3.0, cost, 1e-9)
}

func TestTokenRevocation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	now := time.Now()

	revoked, err := store.IsTokenRevoked(ctx, "jti-1", now)
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, store.RevokeToken(ctx, "jti-1", now.Add(time.Hour)))

	revoked, err = store.IsTokenRevoked(ctx, "jti-1", now)
	require.NoError(t, err)
	require.True(t, revoked)

	// Once the underlying credential has expired the entry no longer
	// matters, and cleanup drops it.
	revoked, err = store.IsTokenRevoked(ctx, "jti-1", now.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, revoked)

	removed, err := store.CleanupExpiredRevocations(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	revoked, err = store.IsTokenRevoked(ctx, "jti-1", now)
	require.NoError(t, err)
	require.False(t, revoked)
}

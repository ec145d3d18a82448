package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kotaroy/painlog/internal/models"
)

// MemoryStorage mirrors the Postgres semantics in-process. Used for tests
// and the use_in_memory configuration.
type MemoryStorage struct {
	mu            sync.RWMutex
	users         map[int64]*models.User
	painPoints    map[uuid.UUID]*models.PainPoint
	conversations map[uuid.UUID]*models.Conversation
	messages      map[uuid.UUID][]*models.Message
	usageRecords  []*models.UsageRecord
	revoked       map[string]time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:         make(map[int64]*models.User),
		painPoints:    make(map[uuid.UUID]*models.PainPoint),
		conversations: make(map[uuid.UUID]*models.Conversation),
		messages:      make(map[uuid.UUID][]*models.Message),
		revoked:       make(map[string]time.Time),
	}
}

// AddUser seeds a user. Test helper; the service itself never creates users.
func (s *MemoryStorage) AddUser(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *user
	s.users[user.ID] = &copied
}

// AddPainPoint seeds a pain point.
func (s *MemoryStorage) AddPainPoint(pp *models.PainPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *pp
	s.painPoints[pp.ID] = &copied
}

func (s *MemoryStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryStorage) GetPainPoint(ctx context.Context, id uuid.UUID) (*models.PainPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pp, exists := s.painPoints[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *pp
	return &copied, nil
}

func (s *MemoryStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.conversations {
		if existing.UserID == conv.UserID && existing.PainPointID == conv.PainPointID {
			return ErrConversationExists
		}
	}

	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if conv.Status == "" {
		conv.Status = models.StatusActive
	}
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	copied := *conv
	s.conversations[conv.ID] = &copied
	return nil
}

func (s *MemoryStorage) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryStorage) GetConversationByPainPoint(ctx context.Context, userID int64, painPointID uuid.UUID) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conv := range s.conversations {
		if conv.UserID == userID && conv.PainPointID == painPointID {
			copied := *conv
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) UpdateConversationStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}
	conv.Status = status
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) AddConversationUsage(ctx context.Context, id uuid.UUID, tokens int, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}
	conv.TotalTokens += tokens
	conv.TotalCost += cost
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[msg.ConversationID]; !exists {
		return ErrNotFound
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()

	copied := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &copied)
	return nil
}

func (s *MemoryStorage) GetMessagesByConversation(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[conversationID]
	messages := make([]*models.Message, 0, len(stored))
	for _, msg := range stored {
		copied := *msg
		messages = append(messages, &copied)
	}

	// Insertion order already matches creation order; the sort keeps the
	// contract explicit and stable.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	return messages, nil
}

func (s *MemoryStorage) CreateUsageRecord(ctx context.Context, rec *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	copied := *rec
	s.usageRecords = append(s.usageRecords, &copied)
	return nil
}

func (s *MemoryStorage) MonthlyCost(ctx context.Context, userID int64, at time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, at.Location())
	end := start.AddDate(0, 1, 0)

	var total float64
	for _, rec := range s.usageRecords {
		if rec.UserID != userID {
			continue
		}
		if rec.CreatedAt.Before(start) || !rec.CreatedAt.Before(end) {
			continue
		}
		total += rec.Cost
	}
	return total, nil
}

func (s *MemoryStorage) IsTokenRevoked(ctx context.Context, jti string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiresAt, exists := s.revoked[jti]
	return exists && expiresAt.After(now), nil
}

func (s *MemoryStorage) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.revoked[jti]; !exists {
		s.revoked[jti] = expiresAt
	}
	return nil
}

func (s *MemoryStorage) CleanupExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for jti, expiresAt := range s.revoked {
		if !expiresAt.After(now) {
			delete(s.revoked, jti)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/kotaroy/painlog/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

func (s *PostgresStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, name, email, created_at
		FROM users
		WHERE id = $1`

	user := &models.User{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying user: %v", err)
	}

	return user, nil
}

func (s *PostgresStorage) GetPainPoint(ctx context.Context, id uuid.UUID) (*models.PainPoint, error) {
	query := `
		SELECT id, user_id, title, description, importance, urgency, created_at
		FROM pain_points
		WHERE id = $1`

	pp := &models.PainPoint{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&pp.ID,
		&pp.UserID,
		&pp.Title,
		&pp.Description,
		&pp.Importance,
		&pp.Urgency,
		&pp.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying pain point: %v", err)
	}

	return pp, nil
}

func (s *PostgresStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO ai_conversations (id, user_id, pain_point_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if conv.Status == "" {
		conv.Status = models.StatusActive
	}

	err := s.db.QueryRowContext(ctx, query,
		conv.ID,
		conv.UserID,
		conv.PainPointID,
		conv.Status,
	).Scan(&conv.CreatedAt, &conv.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrConversationExists
		}
		return fmt.Errorf("error creating conversation: %v", err)
	}

	return nil
}

func (s *PostgresStorage) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, pain_point_id, status, total_tokens, total_cost, created_at, updated_at
		FROM ai_conversations
		WHERE id = $1`, id))
}

func (s *PostgresStorage) GetConversationByPainPoint(ctx context.Context, userID int64, painPointID uuid.UUID) (*models.Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, pain_point_id, status, total_tokens, total_cost, created_at, updated_at
		FROM ai_conversations
		WHERE user_id = $1 AND pain_point_id = $2`, userID, painPointID))
}

func (s *PostgresStorage) scanConversation(row *sql.Row) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := row.Scan(
		&conv.ID,
		&conv.UserID,
		&conv.PainPointID,
		&conv.Status,
		&conv.TotalTokens,
		&conv.TotalCost,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying conversation: %v", err)
	}
	return conv, nil
}

func (s *PostgresStorage) UpdateConversationStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error {
	query := `
		UPDATE ai_conversations
		SET status = $1, updated_at = now()
		WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("error updating conversation status: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) AddConversationUsage(ctx context.Context, id uuid.UUID, tokens int, cost float64) error {
	// Increment at the store so concurrent workers never read-modify-write a
	// stale value.
	query := `
		UPDATE ai_conversations
		SET total_tokens = total_tokens + $1,
		    total_cost = total_cost + $2,
		    updated_at = now()
		WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, tokens, cost, id)
	if err != nil {
		return fmt.Errorf("error adding conversation usage: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_type, content, input_tokens, output_tokens)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	err := s.db.QueryRowContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.Content,
		msg.InputTokens,
		msg.OutputTokens,
	).Scan(&msg.CreatedAt)

	if err != nil {
		return fmt.Errorf("error creating message: %v", err)
	}

	return nil
}

func (s *PostgresStorage) GetMessagesByConversation(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	// seq breaks ties between messages created in the same microsecond, so
	// the order is stable across reads.
	query := `
		SELECT id, conversation_id, sender_type, content, input_tokens, output_tokens, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %v", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Sender,
			&msg.Content,
			&msg.InputTokens,
			&msg.OutputTokens,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %v", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %v", err)
	}

	return messages, nil
}

func (s *PostgresStorage) CreateUsageRecord(ctx context.Context, rec *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (id, user_id, model, request_type, input_tokens, output_tokens, total_tokens, cost, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("error marshaling usage metadata: %v", err)
	}

	err = s.db.QueryRowContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.Model,
		rec.RequestType,
		rec.InputTokens,
		rec.OutputTokens,
		rec.TotalTokens,
		rec.Cost,
		metadataJSON,
	).Scan(&rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("error creating usage record: %v", err)
	}

	return nil
}

func (s *PostgresStorage) MonthlyCost(ctx context.Context, userID int64, at time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE user_id = $1
		  AND created_at >= date_trunc('month', $2::timestamptz)
		  AND created_at < date_trunc('month', $2::timestamptz) + interval '1 month'`

	var total float64
	if err := s.db.QueryRowContext(ctx, query, userID, at).Scan(&total); err != nil {
		return 0, fmt.Errorf("error summing monthly cost: %v", err)
	}

	return total, nil
}

func (s *PostgresStorage) IsTokenRevoked(ctx context.Context, jti string, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM revoked_tokens
			WHERE jti = $1 AND expires_at > $2
		)`

	var revoked bool
	if err := s.db.QueryRowContext(ctx, query, jti, now).Scan(&revoked); err != nil {
		return false, fmt.Errorf("error checking revoked token: %v", err)
	}

	return revoked, nil
}

func (s *PostgresStorage) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	query := `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, jti, expiresAt); err != nil {
		return fmt.Errorf("error revoking token: %v", err)
	}

	return nil
}

func (s *PostgresStorage) CleanupExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("error cleaning up revocations: %v", err)
	}

	return result.RowsAffected()
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}

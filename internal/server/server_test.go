package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kotaroy/painlog/internal/auth"
	"github.com/kotaroy/painlog/internal/channel"
	"github.com/kotaroy/painlog/internal/hub"
	"github.com/kotaroy/painlog/internal/models"
	"github.com/kotaroy/painlog/internal/ratelimit"
	"github.com/kotaroy/painlog/internal/storage"
	"github.com/kotaroy/painlog/internal/usage"
	"github.com/kotaroy/painlog/internal/worker"
)

const testSecret = "test-secret"

type serverFixture struct {
	handler http.Handler
	store   *storage.MemoryStorage
	token   string
	user    *models.User
	conv    *models.Conversation
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStorage()
	user := &models.User{ID: 1, Name: "mika", Email: "mika@example.com"}
	store.AddUser(user)

	painPoint := &models.PainPoint{ID: uuid.New(), UserID: user.ID, Title: "Slow builds", Description: "CI takes forever"}
	store.AddPainPoint(painPoint)

	conv := &models.Conversation{UserID: user.ID, PainPointID: painPoint.ID, Status: models.StatusActive}
	require.NoError(t, store.CreateConversation(context.Background(), conv))

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultLimits())
	ledger := usage.NewLedger(store, 10.0, 0.8)
	ch := channel.New(store, limiter, ledger, hub.New(zap.NewNop()), worker.NewQueue(16), zap.NewNop())
	validator := auth.NewValidator(testSecret, store)

	token, err := auth.IssueToken(testSecret, user.ID, time.Hour)
	require.NoError(t, err)

	srv := New(":0", validator, ch, zap.NewNop())
	return &serverFixture{
		handler: srv.Handler(),
		store:   store,
		token:   token,
		user:    user,
		conv:    conv,
	}
}

func (f *serverFixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	f := newServerFixture(t)
	path := "/api/v1/ai_conversations/" + f.conv.ID.String()

	t.Run("missing header", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, path, "", "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, path, "", "not-a-token")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, path, "", f.token)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestShowConversation(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/ai_conversations/"+f.conv.ID.String(), "", f.token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Conversation models.Conversation `json:"conversation"`
		Messages     []models.Message    `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, f.conv.ID, body.Conversation.ID)
	require.Empty(t, body.Messages)

	rec = f.do(t, http.MethodGet, "/api/v1/ai_conversations/"+uuid.NewString(), "", f.token)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageEndpoint(t *testing.T) {
	f := newServerFixture(t)
	path := "/api/v1/ai_conversations/" + f.conv.ID.String() + "/messages"

	t.Run("accepted", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, `{"message":{"content":"why is this hard?"}}`, f.token)
		require.Equal(t, http.StatusCreated, rec.Code)

		var body struct {
			Message models.Message `json:"message"`
			Status  string         `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "AI response is being generated", body.Status)
		require.Equal(t, models.SenderUser, body.Message.Sender)
	})

	t.Run("empty content", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, `{"message":{"content":"  "}}`, f.token)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("inactive conversation", func(t *testing.T) {
		require.NoError(t, f.store.UpdateConversationStatus(context.Background(), f.conv.ID, models.StatusError))
		rec := f.do(t, http.MethodPost, path, `{"message":{"content":"hello"}}`, f.token)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestRateLimitedResponseCarriesRetryAfter(t *testing.T) {
	f := newServerFixture(t)
	path := "/api/v1/ai_conversations/" + f.conv.ID.String() + "/messages"

	// The default conversation window allows 10 per minute.
	for i := 0; i < 10; i++ {
		rec := f.do(t, http.MethodPost, path, `{"message":{"content":"again"}}`, f.token)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodPost, path, `{"message":{"content":"again"}}`, f.token)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body struct {
		Error      string  `json:"error"`
		RetryAfter float64 `json:"retry_after"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Greater(t, body.RetryAfter, 0.0)
	require.LessOrEqual(t, body.RetryAfter, 60.0)
}

func TestCostLimitResponse(t *testing.T) {
	f := newServerFixture(t)
	require.NoError(t, f.store.CreateUsageRecord(context.Background(), &models.UsageRecord{
		UserID:    f.user.ID,
		Model:     "x",
		Cost:      11.0,
		CreatedAt: time.Now(),
	}))

	path := "/api/v1/ai_conversations/" + f.conv.ID.String() + "/messages"
	rec := f.do(t, http.MethodPost, path, `{"message":{"content":"one more"}}`, f.token)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body struct {
		MonthlyCost float64 `json:"monthly_cost"`
		Limit       float64 `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.InDelta(t, 11.0, body.MonthlyCost, 1e-9)
	require.InDelta(t, 10.0, body.Limit, 1e-9)
}

func TestStartConversationEndpoint(t *testing.T) {
	f := newServerFixture(t)

	painPoint := &models.PainPoint{ID: uuid.New(), UserID: f.user.ID, Title: "Notifications", Description: "Too many"}
	f.store.AddPainPoint(painPoint)
	path := "/api/v1/pain_points/" + painPoint.ID.String() + "/ai_conversations"

	rec := f.do(t, http.MethodPost, path, "", f.token)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, models.StatusActive, created.Status)

	// Idempotent: the second request returns the same conversation with 200.
	rec = f.do(t, http.MethodPost, path, "", f.token)
	require.Equal(t, http.StatusOK, rec.Code)

	var existing models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &existing))
	require.Equal(t, created.ID, existing.ID)
}

func TestLogoutRevokesToken(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/logout", "", f.token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/ai_conversations/"+f.conv.ID.String(), "", f.token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

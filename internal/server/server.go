// Package server exposes the conversation subsystem over HTTP: a websocket
// endpoint for the real-time channel and REST equivalents for plain
// requests.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kotaroy/painlog/internal/auth"
	"github.com/kotaroy/painlog/internal/channel"
)

type Server struct {
	router    *gin.Engine
	validator *auth.Validator
	channel   *channel.Channel
	logger    *zap.Logger
	addr      string
}

func New(addr string, validator *auth.Validator, ch *channel.Channel, logger *zap.Logger) *Server {
	s := &Server{
		validator: validator,
		channel:   ch,
		logger:    logger,
		addr:      addr,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies(nil)

	router.GET("/healthcheck", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/ws", s.handleSocket)

	api := router.Group("/api/v1", s.AuthRequired())
	api.POST("/pain_points/:pain_point_id/ai_conversations", s.handleStartConversation)
	api.GET("/ai_conversations/:id", s.handleShowConversation)
	api.POST("/ai_conversations/:id/messages", s.handleSendMessage)
	api.POST("/auth/logout", s.handleLogout)

	s.router = router
	return s
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	s.logger.Info("Starting server", zap.String("addr", s.addr))
	return s.router.Run(s.addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleStartConversation(c *gin.Context) {
	identity := identityFrom(c)

	painPointID, err := uuid.Parse(c.Param("pain_point_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pain point not found"})
		return
	}

	conv, created, err := s.channel.StartConversation(c.Request.Context(), identity.User, painPointID)
	if err != nil {
		s.respondChannelError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

func (s *Server) handleShowConversation(c *gin.Context) {
	identity := identityFrom(c)

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	conv, messages, err := s.channel.GetConversation(c.Request.Context(), identity.User, conversationID)
	if err != nil {
		s.respondChannelError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"messages":     messages,
	})
}

type sendMessageRequest struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	identity := identityFrom(c)

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	msg, err := s.channel.SendMessage(c.Request.Context(), identity.User, conversationID, req.Message.Content)
	if err != nil {
		s.respondChannelError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": msg,
		"status":  "AI response is being generated",
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	identity := identityFrom(c)

	if err := s.validator.Revoke(c.Request.Context(), identity); err != nil {
		s.logger.Error("Failed to revoke token", zap.Error(err),
			zap.Int64("user_id", identity.User.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log out"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// respondChannelError maps channel rejections onto HTTP statuses.
func (s *Server) respondChannelError(c *gin.Context, err error) {
	var rateLimited *channel.RateLimitedError
	var costLimit *channel.CostLimitError

	switch {
	case errors.Is(err, channel.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
	case errors.Is(err, channel.ErrNotActive):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Conversation is not active"})
	case errors.Is(err, channel.ErrEmptyContent):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Message content is empty"})
	case errors.As(err, &rateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "Rate limit exceeded",
			"retry_after": rateLimited.RetryAfter.Seconds(),
		})
	case errors.As(err, &costLimit):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":        "Monthly API cost limit reached",
			"monthly_cost": costLimit.MonthlyCost,
			"limit":        costLimit.Limit,
		})
	default:
		s.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

package server

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kotaroy/painlog/internal/auth"
	"github.com/kotaroy/painlog/internal/channel"
	"github.com/kotaroy/painlog/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bearer token in the query authenticates the connection; origin
	// checks belong to the deployment's proxy layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client → server frames.
const (
	actionSubscribe   = "subscribe"
	actionSendMessage = "send_message"
)

type clientFrame struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// handleSocket authenticates the token query parameter, upgrades, and runs
// the connection's read loop. The connection is bound to one identity for
// its lifetime; it may hold subscriptions to several conversations.
func (s *Server) handleSocket(c *gin.Context) {
	identity, err := s.validator.Authenticate(c.Request.Context(), c.Query("token"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("Websocket upgrade failed", zap.Error(err))
		return
	}

	sc := &socketConn{
		conn:     conn,
		identity: identity,
		channel:  s.channel,
		logger:   s.logger,
		subs:     make(map[uuid.UUID]*hub.Subscription),
	}
	sc.run(c)
}

type socketConn struct {
	conn     *websocket.Conn
	identity *auth.Identity
	channel  *channel.Channel
	logger   *zap.Logger

	writeMu sync.Mutex
	subs    map[uuid.UUID]*hub.Subscription
	wg      sync.WaitGroup
}

func (sc *socketConn) run(c *gin.Context) {
	defer sc.close()

	for {
		var frame clientFrame
		if err := sc.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sc.logger.Warn("Websocket read failed", zap.Error(err),
					zap.Int64("user_id", sc.identity.User.ID))
			}
			return
		}

		switch frame.Action {
		case actionSubscribe:
			sc.handleSubscribe(c, frame)
		case actionSendMessage:
			sc.handleSendMessage(c, frame)
		default:
			sc.write(hub.ErrorEvent("Unknown action"))
		}
	}
}

func (sc *socketConn) handleSubscribe(c *gin.Context, frame clientFrame) {
	conversationID, err := uuid.Parse(frame.ConversationID)
	if err != nil {
		sc.write(hub.ErrorEvent("Conversation not found"))
		return
	}
	if _, joined := sc.subs[conversationID]; joined {
		return
	}

	sub, confirmation, err := sc.channel.Subscribe(c.Request.Context(), sc.identity.User, conversationID)
	if err != nil {
		sc.write(sc.errorEvent(err))
		return
	}

	sc.subs[conversationID] = sub
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		for event := range sub.Events() {
			sc.write(event)
		}
	}()

	sc.write(confirmation)
}

func (sc *socketConn) handleSendMessage(c *gin.Context, frame clientFrame) {
	conversationID, err := uuid.Parse(frame.ConversationID)
	if err != nil {
		sc.write(hub.ErrorEvent("Conversation not found"))
		return
	}

	msg, err := sc.channel.SendMessage(c.Request.Context(), sc.identity.User, conversationID, frame.Content)
	if err != nil {
		sc.write(sc.errorEvent(err))
		return
	}

	// Ack to the sender only; user_message reaches every subscriber
	// through the topic.
	sc.write(hub.MessageSent(msg))
}

// errorEvent maps channel rejections onto error frames for this caller.
func (sc *socketConn) errorEvent(err error) hub.Event {
	switch {
	case errors.Is(err, channel.ErrNotFound):
		return hub.ErrorEvent("Conversation not found")
	case errors.Is(err, channel.ErrNotActive):
		return hub.ErrorEvent("Conversation is not active")
	case errors.Is(err, channel.ErrEmptyContent):
		return hub.ErrorEvent("Message content is empty")
	}

	var rateLimited *channel.RateLimitedError
	if errors.As(err, &rateLimited) {
		event := hub.ErrorEvent("Rate limit exceeded")
		event.RetryAfter = rateLimited.RetryAfter.Seconds()
		return event
	}
	var costLimit *channel.CostLimitError
	if errors.As(err, &costLimit) {
		event := hub.ErrorEvent("Monthly API cost limit reached")
		event.MonthlyCost = costLimit.MonthlyCost
		event.Limit = costLimit.Limit
		return event
	}

	sc.logger.Error("Websocket action failed", zap.Error(err),
		zap.Int64("user_id", sc.identity.User.ID))
	return hub.ErrorEvent("Failed to process action")
}

func (sc *socketConn) write(event hub.Event) {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if err := sc.conn.WriteJSON(event); err != nil {
		sc.logger.Warn("Websocket write failed", zap.Error(err),
			zap.Int64("user_id", sc.identity.User.ID))
	}
}

// close releases every subscription so the hub never broadcasts to a dead
// handle, then waits for the forwarders to drain and closes the socket.
func (sc *socketConn) close() {
	for _, sub := range sc.subs {
		sc.channel.Unsubscribe(sub)
	}
	sc.wg.Wait()
	sc.conn.Close()
}

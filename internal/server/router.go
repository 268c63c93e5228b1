package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/northcove/compass/backend/internal/apperr"
	"github.com/northcove/compass/backend/internal/auth"
	"github.com/northcove/compass/backend/internal/board"
	"github.com/northcove/compass/backend/internal/bus"
	"github.com/northcove/compass/backend/internal/conversation"
	"github.com/northcove/compass/backend/internal/notification"
	"github.com/northcove/compass/backend/internal/reminder"
	"github.com/northcove/compass/backend/internal/suggestion"
	"github.com/northcove/compass/backend/internal/users"
	"go.uber.org/zap"
)

const (
	userIDContextKey      = "compass_user_id"
	displayNameContextKey = "compass_display_name"

	defaultStreamHeartbeat = 25 * time.Second
)

var (
	errMissingSessions      = errors.New("session validator dependency required")
	errMissingConversations = errors.New("conversation service dependency required")
	errMissingBoards        = errors.New("board service dependency required")
	errMissingSuggestions   = errors.New("suggestion service dependency required")
	errMissingNotifications = errors.New("notification service dependency required")
	errMissingReminders     = errors.New("reminder service dependency required")
	errMissingBroadcaster   = errors.New("broadcaster dependency required")
)

// SessionAuthenticator validates the session credential on a request.
type SessionAuthenticator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies collects everything the HTTP layer needs.
type Dependencies struct {
	Sessions        SessionAuthenticator
	Users           *users.Service
	Conversations   *conversation.Service
	Boards          *board.Service
	Suggestions     *suggestion.Service
	Notifications   *notification.Service
	Reminders       *reminder.Service
	Broadcaster     *Broadcaster
	Bus             *bus.Bus
	Insights        InsightProvider
	Logger          *zap.Logger
	StreamHeartbeat time.Duration
}

// NewHTTPHandler wires the Gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Conversations == nil {
		return nil, errMissingConversations
	}
	if deps.Boards == nil {
		return nil, errMissingBoards
	}
	if deps.Suggestions == nil {
		return nil, errMissingSuggestions
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Reminders == nil {
		return nil, errMissingReminders
	}
	if deps.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		users:         deps.Users,
		conversations: deps.Conversations,
		boards:        deps.Boards,
		suggestions:   deps.Suggestions,
		notifications: deps.Notifications,
		reminders:     deps.Reminders,
		broadcaster:   deps.Broadcaster,
		bus:           deps.Bus,
		insights:      deps.Insights,
		logger:        logger,
		heartbeat:     heartbeat,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/conversations", handler.handleEnsureConversation)
	protected.GET("/conversations/:id", handler.handleGetConversation)
	protected.POST("/conversations/:id/status", handler.handleTransitionConversation)
	protected.POST("/conversations/:id/presence", handler.handlePresenceHeartbeat)
	protected.GET("/conversations/:id/presence", handler.handlePresenceStatus)
	protected.POST("/conversations/:id/messages", handler.handleSendMessage)
	protected.GET("/conversations/:id/messages", handler.handleListMessages)
	protected.PUT("/conversations/:id/plan", handler.handleUpdatePlan)
	protected.GET("/conversations/:id/plan", handler.handleGetPlan)

	protected.GET("/conversations/:id/board", handler.handleGetBoard)
	protected.PUT("/conversations/:id/board/columns", handler.handleSetColumns)
	protected.DELETE("/conversations/:id/board", handler.handleDeleteBoard)
	protected.POST("/conversations/:id/rows", handler.handleCreateRow)
	protected.GET("/conversations/:id/rows", handler.handleListRows)
	protected.POST("/conversations/:id/rows/:rowId/cells", handler.handleCommitCell)
	protected.POST("/conversations/:id/rows/:rowId/tags", handler.handleSetTags)
	protected.POST("/conversations/:id/rows/:rowId/activity", handler.handleAddActivity)
	protected.GET("/conversations/:id/rows/:rowId/history", handler.handleRowHistory)
	protected.GET("/conversations/:id/rows/:rowId/activity", handler.handleRowActivity)
	protected.GET("/conversations/:id/stats", handler.handleStats)

	protected.POST("/conversations/:id/suggestions", handler.handleCreateSuggestion)
	protected.POST("/conversations/:id/suggestions/:suggestionId/resolve", handler.handleResolveSuggestion)
	protected.GET("/conversations/:id/rows/:rowId/suggestions", handler.handleListSuggestions)

	protected.GET("/notifications", handler.handleListNotifications)
	protected.GET("/notifications/unread-count", handler.handleUnreadCount)
	protected.POST("/notifications/:id/read", handler.handleMarkNotificationRead)

	protected.POST("/conversations/:id/reminders", handler.handleCreateReminder)
	protected.GET("/conversations/:id/reminders", handler.handleListReminders)
	protected.GET("/conversations/:id/reminders/:reminderId/calendar", handler.handleReminderCalendar)
	protected.POST("/admin/reminders/sweep", handler.handleSweepReminders)

	protected.POST("/conversations/:id/insight", handler.handleInsight)
	protected.GET("/conversations/:id/stream", handler.handleStream)

	return router, nil
}

type httpHandler struct {
	sessions      SessionAuthenticator
	users         *users.Service
	conversations *conversation.Service
	boards        *board.Service
	suggestions   *suggestion.Service
	notifications *notification.Service
	reminders     *reminder.Service
	broadcaster   *Broadcaster
	bus           *bus.Bus
	insights      InsightProvider
	logger        *zap.Logger
	heartbeat     time.Duration
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.users != nil {
		if err := h.users.Refresh(c.Request.Context(), claims); err != nil {
			h.logger.Warn("profile refresh failed", zap.Error(err), zap.String("user_id", claims.UserID))
		}
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(displayNameContextKey, claims.UserDisplayName)
	c.Next()
}

// requireRole resolves the caller's role in the conversation. Non-participants
// see the same 404 as a missing conversation.
func (h *httpHandler) requireRole(c *gin.Context, conversationID string) (conversation.Role, bool) {
	userID := c.GetString(userIDContextKey)
	role, err := h.conversations.RoleOf(c.Request.Context(), conversationID, userID)
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	return role, true
}

// requireRow loads a row and verifies it belongs to the routed conversation.
func (h *httpHandler) requireRow(c *gin.Context, conversationID, rowID string) (board.Row, bool) {
	row, err := h.boards.GetRow(c.Request.Context(), rowID)
	if err != nil {
		h.respondError(c, err)
		return board.Row{}, false
	}
	if row.ConversationID != conversationID {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return board.Row{}, false
	}
	return row, true
}

// respondError maps service errors onto the wire. Forbidden and not-found
// share a 404 so existence never leaks to outsiders.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrForbidden):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, apperr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	default:
		h.logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

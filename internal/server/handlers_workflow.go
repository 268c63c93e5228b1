package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/northcove/compass/backend/internal/board"
	"github.com/northcove/compass/backend/internal/notification"
	"github.com/northcove/compass/backend/internal/reminder"
	"github.com/northcove/compass/backend/internal/suggestion"
)

type suggestionPayload struct {
	ID             string          `json:"id"`
	RowID          string          `json:"rowId"`
	ConversationID string          `json:"conversationId"`
	Field          string          `json:"field"`
	OldValue       json.RawMessage `json:"oldValue"`
	ProposedValue  json.RawMessage `json:"proposedValue"`
	ProposedByRole string          `json:"proposedByRole"`
	Status         string          `json:"status"`
	CreatedAt      int64           `json:"createdAt"`
	ResolvedAt     *int64          `json:"resolvedAt,omitempty"`
}

func toSuggestionPayload(record suggestion.Suggestion) suggestionPayload {
	return suggestionPayload{
		ID:             record.ID,
		RowID:          record.RowID,
		ConversationID: record.ConversationID,
		Field:          record.Field,
		OldValue:       json.RawMessage(record.OldValueJSON),
		ProposedValue:  json.RawMessage(record.ProposedValueJSON),
		ProposedByRole: record.ProposedByRole,
		Status:         string(record.Status),
		CreatedAt:      record.CreatedAtSeconds,
		ResolvedAt:     record.ResolvedAtSeconds,
	}
}

type createSuggestionRequest struct {
	RowID string          `json:"rowId"`
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

func (h *httpHandler) handleCreateSuggestion(c *gin.Context) {
	conversationID := c.Param("id")
	role, ok := h.requireRole(c, conversationID)
	if !ok {
		return
	}
	var request createSuggestionRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.RowID == "" || request.Field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	proposed := board.NullValue()
	if len(request.Value) > 0 {
		if err := json.Unmarshal(request.Value, &proposed); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	record, err := h.suggestions.Create(c.Request.Context(), conversationID, request.RowID, request.Field, proposed, role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSuggestionPayload(record))
}

type resolveSuggestionRequest struct {
	Accept bool `json:"accept"`
}

func (h *httpHandler) handleResolveSuggestion(c *gin.Context) {
	conversationID := c.Param("id")
	suggestionID := c.Param("suggestionId")
	role, ok := h.requireRole(c, conversationID)
	if !ok {
		return
	}
	record, err := h.suggestions.Get(c.Request.Context(), suggestionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if record.ConversationID != conversationID {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	var request resolveSuggestionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	resolved, err := h.suggestions.Resolve(c.Request.Context(), suggestionID, request.Accept, role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSuggestionPayload(resolved))
}

func (h *httpHandler) handleListSuggestions(c *gin.Context) {
	conversationID := c.Param("id")
	rowID := c.Param("rowId")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	if _, ok := h.requireRow(c, conversationID, rowID); !ok {
		return
	}
	records, err := h.suggestions.ListForRow(c.Request.Context(), rowID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]suggestionPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, toSuggestionPayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": payloads})
}

type notificationPayload struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	Type           string            `json:"type"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Link           string            `json:"link,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
	ReadAt         *int64            `json:"readAt,omitempty"`
	CreatedAt      int64             `json:"createdAt"`
}

func toNotificationPayload(record notification.Notification) notificationPayload {
	return notificationPayload{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		Type:           string(record.Type),
		Title:          record.Title,
		Body:           record.Body,
		Link:           record.Link,
		Meta:           record.Meta,
		ReadAt:         record.ReadAtSeconds,
		CreatedAt:      record.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	filter := notification.ListFilter{
		ConversationID: c.Query("conversation_id"),
		UnreadOnly:     c.Query("unread") == "true",
	}
	records, err := h.notifications.List(c.Request.Context(), userID, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]notificationPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, toNotificationPayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"notifications": payloads})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	count, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.notifications.MarkRead(c.Request.Context(), c.Param("id"), userID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reminderPayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	RowID          string `json:"rowId,omitempty"`
	Kind           string `json:"kind"`
	DueAt          int64  `json:"dueAt"`
	Status         string `json:"status"`
	CreatedAt      int64  `json:"createdAt"`
}

func toReminderPayload(record reminder.Reminder) reminderPayload {
	return reminderPayload{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		RowID:          record.RowID,
		Kind:           string(record.Type),
		DueAt:          record.DueAtSeconds,
		Status:         string(record.Status),
		CreatedAt:      record.CreatedAtSeconds,
	}
}

type createReminderRequest struct {
	RowID string `json:"rowId"`
	Kind  string `json:"kind"`
	DueAt int64  `json:"dueAt"`
}

func (h *httpHandler) handleCreateReminder(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	var request createReminderRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.RowID != "" {
		if _, ok := h.requireRow(c, conversationID, request.RowID); !ok {
			return
		}
	}
	record, err := h.reminders.Create(c.Request.Context(), conversationID, request.RowID, reminder.Type(request.Kind), request.DueAt)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReminderPayload(record))
}

func (h *httpHandler) handleListReminders(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	records, err := h.reminders.List(c.Request.Context(), conversationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]reminderPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, toReminderPayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"reminders": payloads})
}

func (h *httpHandler) handleReminderCalendar(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	record, err := h.reminders.Get(c.Request.Context(), c.Param("reminderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if record.ConversationID != conversationID {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="reminder.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(reminder.BuildCalendar(record)))
}

func (h *httpHandler) handleSweepReminders(c *gin.Context) {
	result, err := h.reminders.Sweep(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/northcove/compass/backend/internal/conversation"
)

type conversationPayload struct {
	ID        string `json:"id"`
	MentorID  string `json:"mentorId"`
	MenteeID  string `json:"menteeId"`
	Status    string `json:"status"`
	StartedAt int64  `json:"startedAt"`
	EndedAt   *int64 `json:"endedAt,omitempty"`
}

func toConversationPayload(record conversation.Conversation) conversationPayload {
	return conversationPayload{
		ID:        record.ID,
		MentorID:  record.MentorID,
		MenteeID:  record.MenteeID,
		Status:    string(record.Status),
		StartedAt: record.StartedAtSeconds,
		EndedAt:   record.EndedAtSeconds,
	}
}

type ensureConversationRequest struct {
	MentorID string `json:"mentorId"`
	MenteeID string `json:"menteeId"`
}

func (h *httpHandler) handleEnsureConversation(c *gin.Context) {
	var request ensureConversationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID := c.GetString(userIDContextKey)
	if request.MentorID != userID && request.MenteeID != userID {
		// Only a member of the pair may open the pairing.
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.conversations.EnsureActive(c.Request.Context(), request.MentorID, request.MenteeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationPayload(record))
}

func (h *httpHandler) handleGetConversation(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	record, err := h.conversations.Get(c.Request.Context(), conversationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationPayload(record))
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (h *httpHandler) handleTransitionConversation(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	var request transitionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	target, err := conversation.ParseStatus(request.Status)
	if err != nil || target == conversation.StatusActive {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.conversations.Transition(c.Request.Context(), conversationID, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationPayload(record))
}

func (h *httpHandler) handlePresenceHeartbeat(c *gin.Context) {
	conversationID := c.Param("id")
	userID := c.GetString(userIDContextKey)
	if err := h.conversations.Touch(c.Request.Context(), conversationID, userID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handlePresenceStatus(c *gin.Context) {
	conversationID := c.Param("id")
	userID := c.GetString(userIDContextKey)
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	counterpartID, err := h.conversations.CounterpartOf(c.Request.Context(), conversationID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	away, err := h.conversations.IsAway(c.Request.Context(), conversationID, counterpartID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": counterpartID, "away": away})
}

type messagePayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Body           string `json:"body"`
	SentAt         int64  `json:"sentAt"`
}

func toMessagePayload(record conversation.ChatMessage) messagePayload {
	return messagePayload{
		ID:             record.MessageID,
		ConversationID: record.ConversationID,
		SenderID:       record.SenderID,
		Body:           record.Body,
		SentAt:         record.SentAtSeconds,
	}
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	conversationID := c.Param("id")
	userID := c.GetString(userIDContextKey)
	var request sendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record, err := h.conversations.SendMessage(c.Request.Context(), conversationID, userID, request.Body)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessagePayload(record))
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	records, err := h.conversations.ListMessages(c.Request.Context(), conversationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]messagePayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, toMessagePayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"messages": payloads})
}

type planPayload struct {
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
	UpdatedByRole  string `json:"updatedByRole"`
	UpdatedAt      int64  `json:"updatedAt"`
}

type updatePlanRequest struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleUpdatePlan(c *gin.Context) {
	conversationID := c.Param("id")
	role, ok := h.requireRole(c, conversationID)
	if !ok {
		return
	}
	var request updatePlanRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record, err := h.conversations.UpdatePlan(c.Request.Context(), conversationID, request.Body, role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, planPayload{
		ConversationID: record.ConversationID,
		Body:           record.Body,
		UpdatedByRole:  string(record.UpdatedByRole),
		UpdatedAt:      record.UpdatedAtSeconds,
	})
}

func (h *httpHandler) handleGetPlan(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	record, err := h.conversations.GetPlan(c.Request.Context(), conversationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, planPayload{
		ConversationID: record.ConversationID,
		Body:           record.Body,
		UpdatedByRole:  string(record.UpdatedByRole),
		UpdatedAt:      record.UpdatedAtSeconds,
	})
}

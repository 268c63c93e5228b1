package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/northcove/compass/backend/internal/bus"
	"go.uber.org/zap"
)

// InsightProvider generates a coaching insight for a conversation. The
// implementation is injected; running without one is supported and the
// endpoint reports unavailability.
type InsightProvider interface {
	Insight(ctx context.Context, conversationID, prompt string) (string, error)
}

type insightRequest struct {
	Prompt string `json:"prompt"`
}

func (h *httpHandler) handleInsight(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	if h.insights == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "insight_unavailable"})
		return
	}
	var request insightRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	text, err := h.insights.Insight(c.Request.Context(), conversationID, request.Prompt)
	if err != nil {
		h.logger.Error("insight generation failed", zap.Error(err), zap.String("conversation_id", conversationID))
		c.JSON(http.StatusBadGateway, gin.H{"error": "insight_failed"})
		return
	}

	if h.bus != nil {
		h.bus.Publish(bus.Event{
			Name:           bus.EventInsightReady,
			ConversationID: conversationID,
			Payload:        map[string]any{"text": text},
		})
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

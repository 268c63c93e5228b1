package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/northcove/compass/backend/internal/bus"
	"go.uber.org/zap"
)

const (
	streamEventConnected = "connected"
	streamEventHeartbeat = "heartbeat"
)

// handleStream serves the per-conversation live feed as newline-delimited
// JSON. The first line confirms the subscription; afterwards every bus event
// for the conversation arrives as one envelope per line, with periodic
// heartbeats keeping intermediaries from closing the connection.
func (h *httpHandler) handleStream(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	events, cleanup := h.broadcaster.Subscribe(c.Request.Context(), conversationID)
	defer cleanup()

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	if !h.writeStreamLine(c, map[string]any{
		"type":           streamEventConnected,
		"conversationId": conversationID,
	}) {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			if !h.writeStreamLine(c, map[string]any{
				"type":           streamEventHeartbeat,
				"conversationId": conversationID,
			}) {
				return
			}
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			if !h.writeStreamLine(c, streamEnvelope(event)) {
				return
			}
			flusher.Flush()
		}
	}
}

// streamEnvelope flattens an event's payload next to its type and
// conversation id. Payload keys never collide with the envelope fields.
func streamEnvelope(event bus.Event) map[string]any {
	envelope := make(map[string]any, len(event.Payload)+2)
	for key, value := range event.Payload {
		envelope[key] = value
	}
	envelope["type"] = event.Name
	envelope["conversationId"] = event.ConversationID
	return envelope
}

func (h *httpHandler) writeStreamLine(c *gin.Context, envelope map[string]any) bool {
	encoded, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("stream envelope encoding failed", zap.Error(err))
		return false
	}
	if _, err := c.Writer.Write(append(encoded, '\n')); err != nil {
		return false
	}
	return true
}

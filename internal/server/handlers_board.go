package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/northcove/compass/backend/internal/board"
)

type columnPayload struct {
	ID       string   `json:"id"`
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
	Width    int      `json:"width"`
	Position int      `json:"position"`
}

func toColumnPayloads(columns []board.Column) []columnPayload {
	payloads := make([]columnPayload, 0, len(columns))
	for _, column := range columns {
		payloads = append(payloads, columnPayload{
			ID:       column.ID,
			Key:      column.Key,
			Label:    column.Label,
			Type:     string(column.Type),
			Required: column.Required,
			Options:  column.Options,
			Width:    column.Width,
			Position: column.Position,
		})
	}
	return payloads
}

type rowPayload struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	Cells          board.CellMap `json:"cells"`
	Tags           []string      `json:"tags"`
	CreatedAt      int64         `json:"createdAt"`
	UpdatedAt      int64         `json:"updatedAt"`
}

func toRowPayload(row board.Row) rowPayload {
	tags := row.Tags
	if tags == nil {
		tags = board.StringList{}
	}
	return rowPayload{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		Cells:          row.Cells,
		Tags:           tags,
		CreatedAt:      row.CreatedAtSeconds,
		UpdatedAt:      row.UpdatedAtSeconds,
	}
}

func (h *httpHandler) handleGetBoard(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	record, columns, err := h.boards.GetOrCreateBoard(c.Request.Context(), conversationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	rows, err := h.boards.ListRows(c.Request.Context(), conversationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	rowPayloads := make([]rowPayload, 0, len(rows))
	for _, row := range rows {
		rowPayloads = append(rowPayloads, toRowPayload(row))
	}
	c.JSON(http.StatusOK, gin.H{
		"boardId": record.ID,
		"columns": toColumnPayloads(columns),
		"rows":    rowPayloads,
	})
}

type columnSpecRequest struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options"`
	Width    int      `json:"width"`
}

type setColumnsRequest struct {
	Columns []columnSpecRequest `json:"columns"`
}

func (h *httpHandler) handleSetColumns(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	var request setColumnsRequest
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Columns) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	specs := make([]board.ColumnSpec, 0, len(request.Columns))
	for _, spec := range request.Columns {
		specs = append(specs, board.ColumnSpec{
			Key:      spec.Key,
			Label:    spec.Label,
			Type:     board.ColumnType(spec.Type),
			Required: spec.Required,
			Options:  spec.Options,
			Width:    spec.Width,
		})
	}
	columns, err := h.boards.SetColumns(c.Request.Context(), conversationID, specs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"columns": toColumnPayloads(columns)})
}

func (h *httpHandler) handleDeleteBoard(c *gin.Context) {
	conversationID := c.Param("id")
	role, ok := h.requireRole(c, conversationID)
	if !ok {
		return
	}
	if err := h.boards.DeleteBoard(c.Request.Context(), conversationID, role); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createRowRequest struct {
	Cells map[string]json.RawMessage `json:"cells"`
	Tags  []string                   `json:"tags"`
}

func decodeCellMap(raw map[string]json.RawMessage) (board.CellMap, error) {
	cells := make(board.CellMap, len(raw))
	for field, encoded := range raw {
		var value board.CellValue
		if err := json.Unmarshal(encoded, &value); err != nil {
			return nil, err
		}
		cells[field] = value
	}
	return cells, nil
}

func (h *httpHandler) handleCreateRow(c *gin.Context) {
	conversationID := c.Param("id")
	role, ok := h.requireRole(c, conversationID)
	if !ok {
		return
	}
	var request createRowRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	cells, err := decodeCellMap(request.Cells)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := h.boards.CreateRow(c.Request.Context(), conversationID, cells, request.Tags, role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRowPayload(row))
}

func (h *httpHandler) handleListRows(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	rows, err := h.boards.ListRows(c.Request.Context(), conversationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]rowPayload, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, toRowPayload(row))
	}
	c.JSON(http.StatusOK, gin.H{"rows": payloads})
}

type commitCellRequest struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

func (h *httpHandler) handleCommitCell(c *gin.Context) {
	conversationID := c.Param("id")
	rowID := c.Param("rowId")
	role, ok := h.requireRole(c, conversationID)
	if !ok {
		return
	}
	if _, ok := h.requireRow(c, conversationID, rowID); !ok {
		return
	}
	var request commitCellRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	value := board.NullValue()
	if len(request.Value) > 0 {
		if err := json.Unmarshal(request.Value, &value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	row, err := h.boards.CommitCellChange(c.Request.Context(), rowID, request.Field, value, role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRowPayload(row))
}

type setTagsRequest struct {
	Tags []string `json:"tags"`
}

func (h *httpHandler) handleSetTags(c *gin.Context) {
	conversationID := c.Param("id")
	rowID := c.Param("rowId")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	if _, ok := h.requireRow(c, conversationID, rowID); !ok {
		return
	}
	var request setTagsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := h.boards.SetTags(c.Request.Context(), rowID, request.Tags)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRowPayload(row))
}

type addActivityRequest struct {
	Note string `json:"note"`
}

func (h *httpHandler) handleAddActivity(c *gin.Context) {
	conversationID := c.Param("id")
	rowID := c.Param("rowId")
	role, ok := h.requireRole(c, conversationID)
	if !ok {
		return
	}
	if _, ok := h.requireRow(c, conversationID, rowID); !ok {
		return
	}
	var request addActivityRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	entry, err := h.boards.AddActivity(c.Request.Context(), rowID, request.Note, role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        entry.ID,
		"rowId":     entry.RowID,
		"note":      entry.Note,
		"role":      entry.Role,
		"createdAt": entry.CreatedAtSeconds,
	})
}

func (h *httpHandler) handleRowHistory(c *gin.Context) {
	conversationID := c.Param("id")
	rowID := c.Param("rowId")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	if _, ok := h.requireRow(c, conversationID, rowID); !ok {
		return
	}
	entries, err := h.boards.RowHistory(c.Request.Context(), rowID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, gin.H{
			"id":        entry.ID,
			"field":     entry.Field,
			"oldValue":  json.RawMessage(entry.OldValueJSON),
			"newValue":  json.RawMessage(entry.NewValueJSON),
			"role":      entry.Role,
			"createdAt": entry.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": payloads})
}

func (h *httpHandler) handleRowActivity(c *gin.Context) {
	conversationID := c.Param("id")
	rowID := c.Param("rowId")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	if _, ok := h.requireRow(c, conversationID, rowID); !ok {
		return
	}
	entries, err := h.boards.RowActivity(c.Request.Context(), rowID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, gin.H{
			"id":        entry.ID,
			"note":      entry.Note,
			"role":      entry.Role,
			"createdAt": entry.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"activity": payloads})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	conversationID := c.Param("id")
	if _, ok := h.requireRole(c, conversationID); !ok {
		return
	}
	stats, err := h.boards.Stats(c.Request.Context(), conversationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

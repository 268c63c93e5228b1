package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/northcove/compass/backend/internal/apperr"
	"github.com/northcove/compass/backend/internal/bus"
	"github.com/northcove/compass/backend/internal/conversation"
	"github.com/northcove/compass/backend/internal/ident"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew  = "board.service.new"
	opGetOrCreate = "board.get_or_create"
	opSetColumns  = "board.set_columns"
	opCreateRow   = "board.create_row"
	opCommitCell  = "board.commit_cell_change"
	opAddActivity = "board.add_activity"
	opSetTags     = "board.set_tags"
	opDeleteBoard = "board.delete"
	opGetRow      = "board.get_row"
	opListRows    = "board.list_rows"
	opRowHistory  = "board.row_history"
	opRowActivity = "board.row_activity"
	opStats       = "board.stats"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errEmptyNote         = errors.New("activity note is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig wires the board store dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Bus        *bus.Bus
	Logger     *zap.Logger
}

// Service owns the shared board state: column schemas, rows, and the two
// append-only trails. Every cell mutation flows through CommitCellChange so
// the history log never loses a prior value, even when edits race.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ident.Provider
	bus        *bus.Bus
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		bus:        cfg.Bus,
		logger:     logger,
	}, nil
}

// GetOrCreateBoard returns the conversation's board and ordered columns,
// creating both with the default column set on first access. Creation is an
// atomic insert-if-absent on the conversation id, so concurrent first calls
// never produce duplicate boards.
func (s *Service) GetOrCreateBoard(ctx context.Context, conversationID string) (Board, []Column, error) {
	boardID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opGetOrCreate, "id_generation_failed", err)
		return Board{}, nil, apperr.New(opGetOrCreate, "id_generation_failed", err)
	}

	candidate := Board{
		ID:               boardID,
		ConversationID:   conversationID,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoNothing: true,
		}).Create(&candidate)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		return s.insertColumns(tx, candidate.ID, defaultColumnSpecs())
	})
	if txErr != nil {
		s.logError(opGetOrCreate, "create_failed", txErr, zap.String("conversation_id", conversationID))
		return Board{}, nil, apperr.New(opGetOrCreate, "create_failed", txErr)
	}

	return s.loadBoard(ctx, conversationID)
}

func (s *Service) loadBoard(ctx context.Context, conversationID string) (Board, []Column, error) {
	var stored Board
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Board{}, nil, apperr.New(opGetOrCreate, "not_found", apperr.ErrNotFound)
	}
	if err != nil {
		return Board{}, nil, apperr.New(opGetOrCreate, "select_failed", err)
	}
	var columns []Column
	if err := s.db.WithContext(ctx).
		Where("board_id = ?", stored.ID).
		Order("position ASC").
		Find(&columns).Error; err != nil {
		return Board{}, nil, apperr.New(opGetOrCreate, "columns_select_failed", err)
	}
	return stored, columns, nil
}

func (s *Service) insertColumns(tx *gorm.DB, boardID string, specs []ColumnSpec) error {
	for position, spec := range specs {
		columnID, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		column := Column{
			ID:       columnID,
			BoardID:  boardID,
			Key:      spec.Key,
			Label:    spec.Label,
			Type:     spec.Type,
			Required: spec.Required,
			Options:  spec.Options,
			Width:    spec.Width,
			Position: position,
		}
		if err := tx.Create(&column).Error; err != nil {
			return err
		}
	}
	return nil
}

// SetColumns replaces the board's column schema. Keys must be unique and
// every select column must carry options; nothing is written otherwise.
// Columns whose key survives keep their identity so historical cell data
// still refers to the same column; new keys get fresh identities and keys
// absent from the new schema are removed.
func (s *Service) SetColumns(ctx context.Context, conversationID string, specs []ColumnSpec) ([]Column, error) {
	if err := validateColumnSpecs(specs); err != nil {
		return nil, apperr.New(opSetColumns, "invalid_schema", fmt.Errorf("%w: %w", apperr.ErrValidation, err))
	}

	stored, _, err := s.GetOrCreateBoard(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []Column
		if err := tx.Where("board_id = ?", stored.ID).Find(&existing).Error; err != nil {
			return err
		}
		byKey := make(map[string]Column, len(existing))
		for _, column := range existing {
			byKey[column.Key] = column
		}

		kept := make(map[string]struct{}, len(specs))
		for position, spec := range specs {
			kept[spec.Key] = struct{}{}
			if current, ok := byKey[spec.Key]; ok {
				updates := map[string]interface{}{
					"label":    spec.Label,
					"type":     spec.Type,
					"required": spec.Required,
					"options":  spec.Options,
					"width":    spec.Width,
					"position": position,
				}
				if err := tx.Model(&Column{}).Where("column_id = ?", current.ID).Updates(updates).Error; err != nil {
					return err
				}
				continue
			}
			columnID, err := s.idProvider.NewID()
			if err != nil {
				return err
			}
			column := Column{
				ID:       columnID,
				BoardID:  stored.ID,
				Key:      spec.Key,
				Label:    spec.Label,
				Type:     spec.Type,
				Required: spec.Required,
				Options:  spec.Options,
				Width:    spec.Width,
				Position: position,
			}
			if err := tx.Create(&column).Error; err != nil {
				return err
			}
		}

		for _, column := range existing {
			if _, ok := kept[column.Key]; !ok {
				if err := tx.Delete(&Column{}, "column_id = ?", column.ID).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opSetColumns, "update_failed", txErr, zap.String("conversation_id", conversationID))
		return nil, apperr.New(opSetColumns, "update_failed", txErr)
	}

	_, columns, err := s.loadBoard(ctx, conversationID)
	return columns, err
}

func validateColumnSpecs(specs []ColumnSpec) error {
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		key := strings.TrimSpace(spec.Key)
		if key == "" {
			return errors.New("column key is required")
		}
		if key != spec.Key {
			return fmt.Errorf("column key %q has surrounding whitespace", spec.Key)
		}
		if _, duplicate := seen[key]; duplicate {
			return fmt.Errorf("duplicate column key %q", key)
		}
		seen[key] = struct{}{}
		switch spec.Type {
		case ColumnTypeText, ColumnTypeNumber, ColumnTypeDate:
		case ColumnTypeSelect:
			if len(spec.Options) == 0 {
				return fmt.Errorf("select column %q needs a non-empty option list", key)
			}
		default:
			return fmt.Errorf("unknown column type %q", spec.Type)
		}
	}
	return nil
}

// CreateRow inserts a new tracked application after validating every cell
// against the column schema.
func (s *Service) CreateRow(ctx context.Context, conversationID string, cells CellMap, tags []string, actingRole conversation.Role) (Row, error) {
	stored, columns, err := s.GetOrCreateBoard(ctx, conversationID)
	if err != nil {
		return Row{}, err
	}

	byKey := make(map[string]Column, len(columns))
	for _, column := range columns {
		byKey[column.Key] = column
	}
	normalized := CellMap{}
	for key, value := range cells {
		column, ok := byKey[key]
		if !ok {
			return Row{}, apperr.New(opCreateRow, "unknown_field", fmt.Errorf("%w: no column %q", apperr.ErrValidation, key))
		}
		if err := ValidateAgainstColumn(column, value); err != nil {
			return Row{}, apperr.New(opCreateRow, "type_mismatch", fmt.Errorf("%w: %w", apperr.ErrValidation, err))
		}
		if !value.IsNull() {
			normalized[key] = value
		}
	}
	for _, column := range columns {
		if column.Required {
			if _, ok := normalized[column.Key]; !ok {
				return Row{}, apperr.New(opCreateRow, "missing_required", fmt.Errorf("%w: column %q is required", apperr.ErrValidation, column.Key))
			}
		}
	}

	rowID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateRow, "id_generation_failed", err)
		return Row{}, apperr.New(opCreateRow, "id_generation_failed", err)
	}
	now := s.clock().UTC().Unix()
	row := Row{
		ID:               rowID,
		BoardID:          stored.ID,
		ConversationID:   conversationID,
		Cells:            normalized,
		Tags:             normalizeTags(tags),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logError(opCreateRow, "insert_failed", err, zap.String("conversation_id", conversationID))
		return Row{}, apperr.New(opCreateRow, "insert_failed", err)
	}

	s.publish(bus.Event{
		Name:           bus.EventRowCreated,
		ConversationID: conversationID,
		Payload:        rowPayload(row),
	})
	s.publishStats(ctx, conversationID)
	return row, nil
}

// CommitCellChange is the single choke point for field mutations: it writes
// the new value and appends exactly one history entry capturing the prior
// value, attributed to the acting role.
func (s *Service) CommitCellChange(ctx context.Context, rowID, field string, value CellValue, actingRole conversation.Role) (Row, error) {
	var updated Row
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.CommitCellChangeIn(tx, rowID, field, value, actingRole)
		if err != nil {
			return err
		}
		updated = row
		return nil
	})
	if txErr != nil {
		return Row{}, txErr
	}
	s.AnnounceRowUpdated(ctx, updated)
	return updated, nil
}

// CommitCellChangeIn runs the commit inside the caller's transaction and
// publishes nothing. The suggestion workflow uses it so the accept path and
// the suggestion state change commit atomically; such callers announce the
// updated row themselves once their transaction lands.
func (s *Service) CommitCellChangeIn(tx *gorm.DB, rowID, field string, value CellValue, actingRole conversation.Role) (Row, error) {
	var row Row
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("row_id = ?", rowID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Row{}, apperr.New(opCommitCell, "row_not_found", apperr.ErrNotFound)
	}
	if err != nil {
		s.logError(opCommitCell, "row_select_failed", err, zap.String("row_id", rowID))
		return Row{}, apperr.New(opCommitCell, "row_select_failed", err)
	}

	var column Column
	err = tx.Where("board_id = ? AND key = ?", row.BoardID, field).Take(&column).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Row{}, apperr.New(opCommitCell, "unknown_field", fmt.Errorf("%w: no column %q", apperr.ErrValidation, field))
	}
	if err != nil {
		s.logError(opCommitCell, "column_select_failed", err, zap.String("row_id", rowID))
		return Row{}, apperr.New(opCommitCell, "column_select_failed", err)
	}
	if err := ValidateAgainstColumn(column, value); err != nil {
		return Row{}, apperr.New(opCommitCell, "type_mismatch", fmt.Errorf("%w: %w", apperr.ErrValidation, err))
	}

	oldValue, ok := row.Cells[field]
	if !ok {
		oldValue = NullValue()
	}
	if row.Cells == nil {
		row.Cells = CellMap{}
	}
	if value.IsNull() {
		delete(row.Cells, field)
	} else {
		row.Cells[field] = value
	}
	row.UpdatedAtSeconds = s.clock().UTC().Unix()
	if err := tx.Save(&row).Error; err != nil {
		s.logError(opCommitCell, "row_save_failed", err, zap.String("row_id", rowID))
		return Row{}, apperr.New(opCommitCell, "row_save_failed", err)
	}

	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCommitCell, "id_generation_failed", err)
		return Row{}, apperr.New(opCommitCell, "id_generation_failed", err)
	}
	oldJSON, err := oldValue.MarshalJSON()
	if err != nil {
		return Row{}, apperr.New(opCommitCell, "old_value_encode_failed", err)
	}
	newJSON, err := value.MarshalJSON()
	if err != nil {
		return Row{}, apperr.New(opCommitCell, "new_value_encode_failed", err)
	}
	entry := HistoryEntry{
		ID:               entryID,
		RowID:            row.ID,
		Field:            field,
		OldValueJSON:     string(oldJSON),
		NewValueJSON:     string(newJSON),
		Role:             string(actingRole),
		CreatedAtSeconds: row.UpdatedAtSeconds,
	}
	if err := tx.Create(&entry).Error; err != nil {
		s.logError(opCommitCell, "history_insert_failed", err, zap.String("row_id", rowID))
		return Row{}, apperr.New(opCommitCell, "history_insert_failed", err)
	}
	return row, nil
}

// AnnounceRowUpdated publishes the row's current state and refreshed
// dashboard stats on the bus.
func (s *Service) AnnounceRowUpdated(ctx context.Context, row Row) {
	s.publish(bus.Event{
		Name:           bus.EventRowUpdated,
		ConversationID: row.ConversationID,
		Payload:        rowPayload(row),
	})
	s.publishStats(ctx, row.ConversationID)
}

// AddActivity appends one free-text note to the row's activity log.
func (s *Service) AddActivity(ctx context.Context, rowID, note string, actingRole conversation.Role) (ActivityEntry, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return ActivityEntry{}, apperr.New(opAddActivity, "empty_note", fmt.Errorf("%w: %w", apperr.ErrValidation, errEmptyNote))
	}
	row, err := s.GetRow(ctx, rowID)
	if err != nil {
		return ActivityEntry{}, err
	}
	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddActivity, "id_generation_failed", err)
		return ActivityEntry{}, apperr.New(opAddActivity, "id_generation_failed", err)
	}
	entry := ActivityEntry{
		ID:               entryID,
		RowID:            row.ID,
		Note:             note,
		Role:             string(actingRole),
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opAddActivity, "insert_failed", err, zap.String("row_id", rowID))
		return ActivityEntry{}, apperr.New(opAddActivity, "insert_failed", err)
	}
	s.publish(bus.Event{
		Name:           bus.EventActivityCreated,
		ConversationID: row.ConversationID,
		Payload: map[string]any{
			"rowId": row.ID,
			"note":  entry.Note,
			"role":  entry.Role,
			"at":    entry.CreatedAtSeconds,
		},
	})
	return entry, nil
}

// SetTags replaces the row's tag set, last write wins.
func (s *Service) SetTags(ctx context.Context, rowID string, tags []string) (Row, error) {
	row, err := s.GetRow(ctx, rowID)
	if err != nil {
		return Row{}, err
	}
	row.Tags = normalizeTags(tags)
	row.UpdatedAtSeconds = s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		s.logError(opSetTags, "save_failed", err, zap.String("row_id", rowID))
		return Row{}, apperr.New(opSetTags, "save_failed", err)
	}
	s.publish(bus.Event{
		Name:           bus.EventRowUpdated,
		ConversationID: row.ConversationID,
		Payload:        rowPayload(row),
	})
	return row, nil
}

// DeleteBoard removes the board and cascades to its rows and both trails.
// This is the only destructive path and belongs to the mentor alone.
func (s *Service) DeleteBoard(ctx context.Context, conversationID string, actingRole conversation.Role) error {
	if actingRole != conversation.RoleMentor {
		return apperr.New(opDeleteBoard, "mentor_only", fmt.Errorf("%w: board deletion is mentor-only", apperr.ErrForbidden))
	}
	var stored Board
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(opDeleteBoard, "not_found", apperr.ErrNotFound)
	}
	if err != nil {
		s.logError(opDeleteBoard, "select_failed", err, zap.String("conversation_id", conversationID))
		return apperr.New(opDeleteBoard, "select_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rowIDs []string
		if err := tx.Model(&Row{}).Where("board_id = ?", stored.ID).Pluck("row_id", &rowIDs).Error; err != nil {
			return err
		}
		if len(rowIDs) > 0 {
			if err := tx.Delete(&HistoryEntry{}, "row_id IN ?", rowIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&ActivityEntry{}, "row_id IN ?", rowIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&Row{}, "board_id = ?", stored.ID).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&Column{}, "board_id = ?", stored.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&Board{}, "board_id = ?", stored.ID).Error
	})
	if txErr != nil {
		s.logError(opDeleteBoard, "delete_failed", txErr, zap.String("conversation_id", conversationID))
		return apperr.New(opDeleteBoard, "delete_failed", txErr)
	}
	return nil
}

// ColumnForRow resolves the column definition backing one field of a row.
func (s *Service) ColumnForRow(ctx context.Context, rowID, field string) (Column, error) {
	row, err := s.GetRow(ctx, rowID)
	if err != nil {
		return Column{}, err
	}
	var column Column
	err = s.db.WithContext(ctx).
		Where("board_id = ? AND key = ?", row.BoardID, field).
		Take(&column).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Column{}, apperr.New(opCommitCell, "unknown_field", fmt.Errorf("%w: no column %q", apperr.ErrValidation, field))
	}
	if err != nil {
		s.logError(opCommitCell, "column_select_failed", err, zap.String("row_id", rowID))
		return Column{}, apperr.New(opCommitCell, "column_select_failed", err)
	}
	return column, nil
}

// GetRow loads a single row.
func (s *Service) GetRow(ctx context.Context, rowID string) (Row, error) {
	var row Row
	err := s.db.WithContext(ctx).Where("row_id = ?", rowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Row{}, apperr.New(opGetRow, "not_found", apperr.ErrNotFound)
	}
	if err != nil {
		s.logError(opGetRow, "select_failed", err, zap.String("row_id", rowID))
		return Row{}, apperr.New(opGetRow, "select_failed", err)
	}
	return row, nil
}

// ListRows returns the conversation's rows, oldest first.
func (s *Service) ListRows(ctx context.Context, conversationID string) ([]Row, error) {
	var rows []Row
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at_s ASC, row_id ASC").
		Find(&rows).Error
	if err != nil {
		s.logError(opListRows, "query_failed", err, zap.String("conversation_id", conversationID))
		return nil, apperr.New(opListRows, "query_failed", err)
	}
	return rows, nil
}

// RowHistory returns the row's committed-change trail, oldest first.
func (s *Service) RowHistory(ctx context.Context, rowID string) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.db.WithContext(ctx).
		Where("row_id = ?", rowID).
		Order("created_at_s ASC, entry_id ASC").
		Find(&entries).Error
	if err != nil {
		s.logError(opRowHistory, "query_failed", err, zap.String("row_id", rowID))
		return nil, apperr.New(opRowHistory, "query_failed", err)
	}
	return entries, nil
}

// RowActivity returns the row's note trail, oldest first.
func (s *Service) RowActivity(ctx context.Context, rowID string) ([]ActivityEntry, error) {
	var entries []ActivityEntry
	err := s.db.WithContext(ctx).
		Where("row_id = ?", rowID).
		Order("created_at_s ASC, entry_id ASC").
		Find(&entries).Error
	if err != nil {
		s.logError(opRowActivity, "query_failed", err, zap.String("row_id", rowID))
		return nil, apperr.New(opRowActivity, "query_failed", err)
	}
	return entries, nil
}

// Stats aggregates the conversation's rows by their status cell.
func (s *Service) Stats(ctx context.Context, conversationID string) (Stats, error) {
	rows, err := s.ListRows(ctx, conversationID)
	if err != nil {
		return Stats{}, apperr.New(opStats, "rows_query_failed", err)
	}
	stats := Stats{Total: int64(len(rows)), ByStatus: map[string]int64{}}
	for _, row := range rows {
		value, ok := row.Cells[StatusColumnKey]
		if !ok || value.Kind != KindText {
			continue
		}
		stats.ByStatus[value.Text]++
	}
	return stats, nil
}

func (s *Service) publishStats(ctx context.Context, conversationID string) {
	if s.bus == nil {
		return
	}
	stats, err := s.Stats(ctx, conversationID)
	if err != nil {
		s.logError(opStats, "publish_skipped", err, zap.String("conversation_id", conversationID))
		return
	}
	s.publish(bus.Event{
		Name:           bus.EventStatsUpdated,
		ConversationID: conversationID,
		Payload: map[string]any{
			"total":    stats.Total,
			"byStatus": stats.ByStatus,
		},
	})
}

func rowPayload(row Row) map[string]any {
	return map[string]any{
		"rowId":     row.ID,
		"cells":     row.Cells,
		"tags":      row.Tags,
		"updatedAt": row.UpdatedAtSeconds,
	}
}

func normalizeTags(tags []string) StringList {
	normalized := StringList{}
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, duplicate := seen[tag]; duplicate {
			continue
		}
		seen[tag] = struct{}{}
		normalized = append(normalized, tag)
	}
	return normalized
}

func (s *Service) publish(event bus.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("board service error", attrs...)
}

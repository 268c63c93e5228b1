package suggestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/northcove/compass/backend/internal/apperr"
	"github.com/northcove/compass/backend/internal/board"
	"github.com/northcove/compass/backend/internal/bus"
	"github.com/northcove/compass/backend/internal/conversation"
	"github.com/northcove/compass/backend/internal/ident"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "suggestion.service.new"
	opCreate     = "suggestion.create"
	opResolve    = "suggestion.resolve"
	opGet        = "suggestion.get"
	opList       = "suggestion.list"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingBoards     = errors.New("board service is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig wires the suggestion workflow dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Bus        *bus.Bus
	Boards     *board.Service
	Logger     *zap.Logger
}

// Service runs the proposal/approval state machine layered on board cells.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ident.Provider
	bus        *bus.Bus
	boards     *board.Service
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
	if cfg.Boards == nil {
		return nil, apperr.New(opServiceNew, "missing_boards", errMissingBoards)
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
		boards:     cfg.Boards,
		logger:     logger,
	}, nil
}

// Create proposes a new value for one field of a row. Mentor-only. The old
// value is read from the row's current committed state, never from client
// input, and the proposal is validated against the column schema up front so
// an accept cannot fail on a malformed value later.
func (s *Service) Create(ctx context.Context, conversationID, rowID, field string, proposed board.CellValue, actingRole conversation.Role) (Suggestion, error) {
	if actingRole != conversation.RoleMentor {
		return Suggestion{}, apperr.New(opCreate, "mentor_only", fmt.Errorf("%w: only the mentor proposes changes", apperr.ErrForbidden))
	}

	row, err := s.boards.GetRow(ctx, rowID)
	if err != nil {
		return Suggestion{}, err
	}
	if row.ConversationID != conversationID {
		return Suggestion{}, apperr.New(opCreate, "row_outside_conversation", apperr.ErrNotFound)
	}

	column, err := s.boards.ColumnForRow(ctx, rowID, field)
	if err != nil {
		return Suggestion{}, err
	}
	if err := board.ValidateAgainstColumn(column, proposed); err != nil {
		return Suggestion{}, apperr.New(opCreate, "type_mismatch", fmt.Errorf("%w: %w", apperr.ErrValidation, err))
	}

	oldValue, ok := row.Cells[field]
	if !ok {
		oldValue = board.NullValue()
	}
	oldJSON, err := oldValue.MarshalJSON()
	if err != nil {
		return Suggestion{}, apperr.New(opCreate, "old_value_encode_failed", err)
	}
	proposedJSON, err := proposed.MarshalJSON()
	if err != nil {
		return Suggestion{}, apperr.New(opCreate, "proposed_value_encode_failed", err)
	}

	suggestionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Suggestion{}, apperr.New(opCreate, "id_generation_failed", err)
	}
	record := Suggestion{
		ID:                suggestionID,
		RowID:             rowID,
		ConversationID:    conversationID,
		Field:             field,
		OldValueJSON:      string(oldJSON),
		ProposedValueJSON: string(proposedJSON),
		ProposedByRole:    string(actingRole),
		Status:            StatusPending,
		CreatedAtSeconds:  s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("row_id", rowID))
		return Suggestion{}, apperr.New(opCreate, "insert_failed", err)
	}

	s.publish(bus.Event{
		Name:           bus.EventSuggestionCreated,
		ConversationID: conversationID,
		Payload: map[string]any{
			"suggestionId":  record.ID,
			"rowId":         record.RowID,
			"field":         record.Field,
			"oldValue":      json.RawMessage(record.OldValueJSON),
			"proposedValue": json.RawMessage(record.ProposedValueJSON),
			"proposedBy":    record.ProposedByRole,
		},
	})
	return record, nil
}

// Resolve settles a pending suggestion one-shot. The claim is an atomic
// conditional update whose predicate includes the pending status, so two
// racing resolutions cannot both succeed; the second gets a conflict error.
// Accepting commits the proposed value through the board's single mutation
// choke point inside the same transaction.
func (s *Service) Resolve(ctx context.Context, suggestionID string, accept bool, actingRole conversation.Role) (Suggestion, error) {
	record, err := s.Get(ctx, suggestionID)
	if err != nil {
		return Suggestion{}, err
	}
	if string(actingRole) == record.ProposedByRole {
		return Suggestion{}, apperr.New(opResolve, "proposer_cannot_resolve", fmt.Errorf("%w: the other participant resolves suggestions", apperr.ErrForbidden))
	}

	target := StatusRejected
	if accept {
		target = StatusAccepted
	}
	resolvedAt := s.clock().UTC().Unix()

	var updatedRow board.Row
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&Suggestion{}).
			Where("suggestion_id = ? AND status = ?", suggestionID, StatusPending).
			Updates(map[string]interface{}{"status": target, "resolved_at_s": resolvedAt})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return apperr.New(opResolve, "already_resolved", fmt.Errorf("%w: suggestion is %s", apperr.ErrConflict, record.Status))
		}
		if !accept {
			return nil
		}
		var proposed board.CellValue
		if err := proposed.UnmarshalJSON([]byte(record.ProposedValueJSON)); err != nil {
			return apperr.New(opResolve, "proposed_value_decode_failed", err)
		}
		row, err := s.boards.CommitCellChangeIn(tx, record.RowID, record.Field, proposed, actingRole)
		if err != nil {
			return err
		}
		updatedRow = row
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, apperr.ErrConflict) && !errors.Is(txErr, apperr.ErrValidation) && !errors.Is(txErr, apperr.ErrNotFound) {
			s.logError(opResolve, "transaction_failed", txErr, zap.String("suggestion_id", suggestionID))
		}
		return Suggestion{}, txErr
	}

	record.Status = target
	record.ResolvedAtSeconds = &resolvedAt

	s.publish(bus.Event{
		Name:           bus.EventSuggestionResolved,
		ConversationID: record.ConversationID,
		Payload: map[string]any{
			"suggestionId": record.ID,
			"rowId":        record.RowID,
			"field":        record.Field,
			"status":       string(record.Status),
			"resolvedBy":   string(actingRole),
			"resolvedAt":   resolvedAt,
		},
	})
	if accept {
		s.boards.AnnounceRowUpdated(ctx, updatedRow)
	}
	return record, nil
}

// Get loads one suggestion.
func (s *Service) Get(ctx context.Context, suggestionID string) (Suggestion, error) {
	var record Suggestion
	err := s.db.WithContext(ctx).
		Where("suggestion_id = ?", suggestionID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Suggestion{}, apperr.New(opGet, "not_found", apperr.ErrNotFound)
	}
	if err != nil {
		s.logError(opGet, "select_failed", err, zap.String("suggestion_id", suggestionID))
		return Suggestion{}, apperr.New(opGet, "select_failed", err)
	}
	return record, nil
}

// ListForRow returns the row's suggestions, newest first.
func (s *Service) ListForRow(ctx context.Context, rowID string) ([]Suggestion, error) {
	var records []Suggestion
	err := s.db.WithContext(ctx).
		Where("row_id = ?", rowID).
		Order("created_at_s DESC, suggestion_id DESC").
		Find(&records).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("row_id", rowID))
		return nil, apperr.New(opList, "query_failed", err)
	}
	return records, nil
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
	s.logger.Error("suggestion service error", attrs...)
}

package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/northcove/compass/backend/internal/apperr"
	"github.com/northcove/compass/backend/internal/bus"
	"github.com/northcove/compass/backend/internal/conversation"
	"github.com/northcove/compass/backend/internal/ident"
	"github.com/northcove/compass/backend/internal/notification"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "reminder.service.new"
	opCreate     = "reminder.create"
	opGet        = "reminder.get"
	opList       = "reminder.list"
	opSweep      = "reminder.sweep"
)

var (
	errMissingDatabase      = errors.New("database handle is required")
	errMissingIDProvider    = errors.New("id provider is required")
	errMissingConversations = errors.New("conversation service is required")
	errMissingNotifier      = errors.New("notification service is required")
	errDueInPast            = errors.New("due timestamp is required")
	noOpLogger              = zap.NewNop()
)

// ServiceConfig wires the reminder scheduler dependencies.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    ident.Provider
	Bus           *bus.Bus
	Conversations *conversation.Service
	Notifier      *notification.Service
	Logger        *zap.Logger
}

// Service creates reminders and runs the periodic due sweep. The sweep is
// at-most-once: each due reminder is claimed with an atomic conditional
// update before any work happens, and a claimed reminder that later fails
// stays triggered rather than risking duplicate alerts.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	idProvider    ident.Provider
	bus           *bus.Bus
	conversations *conversation.Service
	notifier      *notification.Service
	logger        *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Conversations == nil {
		return nil, apperr.New(opServiceNew, "missing_conversations", errMissingConversations)
	}
	if cfg.Notifier == nil {
		return nil, apperr.New(opServiceNew, "missing_notifier", errMissingNotifier)
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
		db:            cfg.Database,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		bus:           cfg.Bus,
		conversations: cfg.Conversations,
		notifier:      cfg.Notifier,
		logger:        logger,
	}, nil
}

// Create schedules a reminder and announces it on the live stream.
func (s *Service) Create(ctx context.Context, conversationID, rowID string, kind Type, dueAtSeconds int64) (Reminder, error) {
	if _, err := ParseType(string(kind)); err != nil {
		return Reminder{}, apperr.New(opCreate, "invalid_type", fmt.Errorf("%w: %w", apperr.ErrValidation, err))
	}
	if dueAtSeconds <= 0 {
		return Reminder{}, apperr.New(opCreate, "invalid_due", fmt.Errorf("%w: %w", apperr.ErrValidation, errDueInPast))
	}
	reminderID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Reminder{}, apperr.New(opCreate, "id_generation_failed", err)
	}
	record := Reminder{
		ID:               reminderID,
		ConversationID:   conversationID,
		RowID:            rowID,
		Type:             kind,
		DueAtSeconds:     dueAtSeconds,
		Status:           StatusPending,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("conversation_id", conversationID))
		return Reminder{}, apperr.New(opCreate, "insert_failed", err)
	}

	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Name:           bus.EventReminderCreated,
			ConversationID: conversationID,
			Payload: map[string]any{
				"reminderId": record.ID,
				"rowId":      record.RowID,
				"kind":       string(record.Type),
				"dueAt":      record.DueAtSeconds,
			},
		})
	}
	return record, nil
}

// Get loads one reminder.
func (s *Service) Get(ctx context.Context, reminderID string) (Reminder, error) {
	var record Reminder
	err := s.db.WithContext(ctx).
		Where("reminder_id = ?", reminderID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Reminder{}, apperr.New(opGet, "not_found", apperr.ErrNotFound)
	}
	if err != nil {
		s.logError(opGet, "select_failed", err, zap.String("reminder_id", reminderID))
		return Reminder{}, apperr.New(opGet, "select_failed", err)
	}
	return record, nil
}

// List returns the conversation's reminders, soonest due first.
func (s *Service) List(ctx context.Context, conversationID string) ([]Reminder, error) {
	var records []Reminder
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("due_at_s ASC, reminder_id ASC").
		Find(&records).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("conversation_id", conversationID))
		return nil, apperr.New(opList, "query_failed", err)
	}
	return records, nil
}

// Sweep finds due pending reminders, claims each exactly once, and fans out
// a notification to both participants. Invoked by an external roughly
// periodic trigger; failures on one reminder never stop the rest.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.clock().UTC().Unix()
	var due []Reminder
	err := s.db.WithContext(ctx).
		Where("status = ? AND due_at_s <= ?", StatusPending, now).
		Order("due_at_s ASC, reminder_id ASC").
		Find(&due).Error
	if err != nil {
		s.logError(opSweep, "query_failed", err)
		return SweepResult{}, apperr.New(opSweep, "query_failed", err)
	}

	result := SweepResult{TotalDue: len(due)}
	for _, record := range due {
		claim := s.db.WithContext(ctx).Model(&Reminder{}).
			Where("reminder_id = ? AND status = ?", record.ID, StatusPending).
			Update("status", StatusTriggered)
		if claim.Error != nil {
			// Not claimed: stays pending for the next sweep.
			s.logError(opSweep, "claim_failed", claim.Error, zap.String("reminder_id", record.ID))
			result.Errors++
			continue
		}
		if claim.RowsAffected == 0 {
			// A concurrent sweep got here first.
			continue
		}

		if err := s.fanOut(ctx, record); err != nil {
			// Claimed but not delivered: deliberately not retried.
			s.logError(opSweep, "fan_out_failed", err, zap.String("reminder_id", record.ID))
			result.Errors++
			continue
		}
		result.Processed++
	}
	return result, nil
}

func (s *Service) fanOut(ctx context.Context, record Reminder) error {
	conv, err := s.conversations.Get(ctx, record.ConversationID)
	if err != nil {
		return fmt.Errorf("resolve conversation %s: %w", record.ConversationID, err)
	}

	title := record.Type.Title()
	body := fmt.Sprintf("A %s reminder in your coaching conversation is due.", record.Type)
	link := fmt.Sprintf("/conversations/%s", record.ConversationID)
	meta := notification.Meta{"reminderId": record.ID}
	if record.RowID != "" {
		meta["rowId"] = record.RowID
	}

	var firstErr error
	for _, recipient := range []string{conv.MentorID, conv.MenteeID} {
		_, err := s.notifier.Notify(ctx, recipient, record.ConversationID, notification.TypeReminderDue, title, body, link, meta)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
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
	s.logger.Error("reminder service error", attrs...)
}

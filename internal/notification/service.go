package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/northcove/compass/backend/internal/apperr"
	"github.com/northcove/compass/backend/internal/bus"
	"github.com/northcove/compass/backend/internal/ident"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew  = "notification.service.new"
	opNotify      = "notification.notify"
	opMarkRead    = "notification.mark_read"
	opList        = "notification.list"
	opUnreadCount = "notification.unread_count"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingRecipient  = errors.New("recipient is required")
	errMissingTitle      = errors.New("title is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig wires the notification service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Bus        *bus.Bus
	Logger     *zap.Logger
}

// Service persists per-user notifications and republishes each one as a live
// event. Whether a notification is warranted at all is the caller's decision,
// typically made by consulting presence first; this service always persists
// and always publishes.
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

// Notify persists one notification and publishes it tagged with the
// conversation id.
func (s *Service) Notify(ctx context.Context, recipientID, conversationID string, kind Type, title, body, link string, meta Meta) (Notification, error) {
	if strings.TrimSpace(recipientID) == "" {
		return Notification{}, apperr.New(opNotify, "missing_recipient", fmt.Errorf("%w: %w", apperr.ErrValidation, errMissingRecipient))
	}
	if strings.TrimSpace(title) == "" {
		return Notification{}, apperr.New(opNotify, "missing_title", fmt.Errorf("%w: %w", apperr.ErrValidation, errMissingTitle))
	}

	notificationID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opNotify, "id_generation_failed", err)
		return Notification{}, apperr.New(opNotify, "id_generation_failed", err)
	}
	record := Notification{
		ID:               notificationID,
		RecipientID:      recipientID,
		ConversationID:   conversationID,
		Type:             kind,
		Title:            title,
		Body:             body,
		Link:             link,
		Meta:             meta,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opNotify, "insert_failed", err,
			zap.String("recipient_id", recipientID),
			zap.String("conversation_id", conversationID))
		return Notification{}, apperr.New(opNotify, "insert_failed", err)
	}

	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Name:           bus.EventNotificationCreated,
			ConversationID: conversationID,
			Payload: map[string]any{
				"notificationId": record.ID,
				"recipientId":    record.RecipientID,
				"kind":           string(record.Type),
				"title":          record.Title,
				"body":           record.Body,
				"link":           record.Link,
				"createdAt":      record.CreatedAtSeconds,
			},
		})
	}
	return record, nil
}

// MarkRead stamps the read timestamp. A notification belonging to someone
// else reads as not-found so existence never leaks; marking an already-read
// record again is a no-op success.
func (s *Service) MarkRead(ctx context.Context, notificationID, userID string) error {
	var record Notification
	err := s.db.WithContext(ctx).
		Where("notification_id = ? AND recipient_id = ?", notificationID, userID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(opMarkRead, "not_found", apperr.ErrNotFound)
	}
	if err != nil {
		s.logError(opMarkRead, "select_failed", err, zap.String("notification_id", notificationID))
		return apperr.New(opMarkRead, "select_failed", err)
	}
	if record.ReadAtSeconds != nil {
		return nil
	}
	now := s.clock().UTC().Unix()
	err = s.db.WithContext(ctx).Model(&Notification{}).
		Where("notification_id = ? AND recipient_id = ? AND read_at_s IS NULL", notificationID, userID).
		Update("read_at_s", now).Error
	if err != nil {
		s.logError(opMarkRead, "update_failed", err, zap.String("notification_id", notificationID))
		return apperr.New(opMarkRead, "update_failed", err)
	}
	return nil
}

// List returns the recipient's notifications, newest first, optionally
// narrowed to one conversation or to unread records.
func (s *Service) List(ctx context.Context, recipientID string, filter ListFilter) ([]Notification, error) {
	query := s.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if filter.ConversationID != "" {
		query = query.Where("conversation_id = ?", filter.ConversationID)
	}
	if filter.UnreadOnly {
		query = query.Where("read_at_s IS NULL")
	}
	var records []Notification
	if err := query.Order("created_at_s DESC, notification_id DESC").Find(&records).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("recipient_id", recipientID))
		return nil, apperr.New(opList, "query_failed", err)
	}
	return records, nil
}

// UnreadCount returns the recipient's number of unread notifications.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND read_at_s IS NULL", recipientID).
		Count(&total).Error
	if err != nil {
		s.logError(opUnreadCount, "count_failed", err, zap.String("recipient_id", recipientID))
		return 0, apperr.New(opUnreadCount, "count_failed", err)
	}
	return total, nil
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
	s.logger.Error("notification service error", attrs...)
}

package conversation

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
	opServiceNew    = "conversation.service.new"
	opEnsureActive  = "conversation.ensure_active"
	opGet           = "conversation.get"
	opRoleOf        = "conversation.role_of"
	opTransition    = "conversation.transition"
	opSendMessage   = "conversation.send_message"
	opListMessages  = "conversation.list_messages"
	opUpdatePlan    = "conversation.update_plan"
	opGetPlan       = "conversation.get_plan"
	defaultAwayGap  = 30 * time.Second
	maxChatBodySize = 8192
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errSamePairSides     = errors.New("mentor and mentee must differ")
	errEmptyParticipant  = errors.New("participant identifiers are required")
	errEmptyBody         = errors.New("message body is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig wires the conversation service dependencies.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    ident.Provider
	Bus           *bus.Bus
	Logger        *zap.Logger
	AwayThreshold time.Duration
}

// Service manages mentorship conversations, participant presence, chat
// messages and the shared mentoring plan.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	idProvider    ident.Provider
	bus           *bus.Bus
	logger        *zap.Logger
	awayThreshold time.Duration
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
	threshold := cfg.AwayThreshold
	if threshold <= 0 {
		threshold = defaultAwayGap
	}
	return &Service{
		db:            cfg.Database,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		bus:           cfg.Bus,
		logger:        logger,
		awayThreshold: threshold,
	}, nil
}

// EnsureActive returns the pair's current ACTIVE conversation, creating one
/// when none exists. Policy: only the currently ACTIVE record is ever reused;
// starting a new term after a completed one always creates a new record.
// A concurrent first create loses the unique-index race and falls back to
// reading the winner's record.
func (s *Service) EnsureActive(ctx context.Context, mentorID, menteeID string) (Conversation, error) {
	mentorID = strings.TrimSpace(mentorID)
	menteeID = strings.TrimSpace(menteeID)
	if mentorID == "" || menteeID == "" {
		return Conversation{}, apperr.New(opEnsureActive, "missing_participant", fmt.Errorf("%w: %w", apperr.ErrValidation, errEmptyParticipant))
	}
	if mentorID == menteeID {
		return Conversation{}, apperr.New(opEnsureActive, "same_participant", fmt.Errorf("%w: %w", apperr.ErrValidation, errSamePairSides))
	}

	existing, err := s.findActive(ctx, mentorID, menteeID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opEnsureActive, "select_failed", err)
		return Conversation{}, apperr.New(opEnsureActive, "select_failed", err)
	}

	conversationID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opEnsureActive, "id_generation_failed", err)
		return Conversation{}, apperr.New(opEnsureActive, "id_generation_failed", err)
	}
	record := Conversation{
		ID:               conversationID,
		MentorID:         mentorID,
		MenteeID:         menteeID,
		Status:           StatusActive,
		StartedAtSeconds: s.clock().UTC().Unix(),
	}
	createErr := s.db.WithContext(ctx).Create(&record).Error
	if createErr == nil {
		return record, nil
	}
	if isUniqueViolation(createErr) {
		winner, readErr := s.findActive(ctx, mentorID, menteeID)
		if readErr == nil {
			return winner, nil
		}
		s.logError(opEnsureActive, "conflict_reread_failed", readErr)
		return Conversation{}, apperr.New(opEnsureActive, "conflict_reread_failed", fmt.Errorf("%w: %v", apperr.ErrConflict, readErr))
	}
	s.logError(opEnsureActive, "insert_failed", createErr)
	return Conversation{}, apperr.New(opEnsureActive, "insert_failed", createErr)
}

func (s *Service) findActive(ctx context.Context, mentorID, menteeID string) (Conversation, error) {
	var record Conversation
	err := s.db.WithContext(ctx).
		Where("mentor_id = ? AND mentee_id = ? AND status = ?", mentorID, menteeID, StatusActive).
		Take(&record).Error
	return record, err
}

// Get loads a conversation by identifier.
func (s *Service) Get(ctx context.Context, conversationID string) (Conversation, error) {
	var record Conversation
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, apperr.New(opGet, "not_found", apperr.ErrNotFound)
	}
	if err != nil {
		s.logError(opGet, "select_failed", err, zap.String("conversation_id", conversationID))
		return Conversation{}, apperr.New(opGet, "select_failed", err)
	}
	return record, nil
}

// RoleOf resolves a user's role inside the conversation. A non-participant
// receives not-found rather than forbidden so existence never leaks.
func (s *Service) RoleOf(ctx context.Context, conversationID, userID string) (Role, error) {
	record, err := s.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	switch userID {
	case record.MentorID:
		return RoleMentor, nil
	case record.MenteeID:
		return RoleMentee, nil
	default:
		return "", apperr.New(opRoleOf, "not_participant", apperr.ErrNotFound)
	}
}

// CounterpartOf returns the other participant of the conversation for the
// given user.
func (s *Service) CounterpartOf(ctx context.Context, conversationID, userID string) (string, error) {
	record, err := s.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	switch userID {
	case record.MentorID:
		return record.MenteeID, nil
	case record.MenteeID:
		return record.MentorID, nil
	default:
		return "", apperr.New(opRoleOf, "not_participant", apperr.ErrNotFound)
	}
}

// Transition moves an ACTIVE conversation into a terminal lifecycle state.
// The predicate includes the ACTIVE status so two racing transitions cannot
// both succeed.
func (s *Service) Transition(ctx context.Context, conversationID string, target Status) (Conversation, error) {
	if target == StatusActive {
		return Conversation{}, apperr.New(opTransition, "invalid_target", fmt.Errorf("%w: cannot transition into ACTIVE", apperr.ErrValidation))
	}
	endedAt := s.clock().UTC().Unix()
	result := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("conversation_id = ? AND status = ?", conversationID, StatusActive).
		Updates(map[string]interface{}{"status": target, "ended_at_s": endedAt})
	if result.Error != nil {
		s.logError(opTransition, "update_failed", result.Error, zap.String("conversation_id", conversationID))
		return Conversation{}, apperr.New(opTransition, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		record, err := s.Get(ctx, conversationID)
		if err != nil {
			return Conversation{}, err
		}
		return Conversation{}, apperr.New(opTransition, "already_closed",
			fmt.Errorf("%w: conversation is %s", apperr.ErrConflict, record.Status))
	}
	return s.Get(ctx, conversationID)
}

// SendMessage persists one chat line and publishes it to the live stream.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, body string) (ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return ChatMessage{}, apperr.New(opSendMessage, "empty_body", fmt.Errorf("%w: %w", apperr.ErrValidation, errEmptyBody))
	}
	if len(body) > maxChatBodySize {
		return ChatMessage{}, apperr.New(opSendMessage, "body_too_long", fmt.Errorf("%w: body exceeds %d bytes", apperr.ErrValidation, maxChatBodySize))
	}
	if _, err := s.RoleOf(ctx, conversationID, senderID); err != nil {
		return ChatMessage{}, err
	}
	messageID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSendMessage, "id_generation_failed", err)
		return ChatMessage{}, apperr.New(opSendMessage, "id_generation_failed", err)
	}
	message := ChatMessage{
		MessageID:      messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		SentAtSeconds:  s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logError(opSendMessage, "insert_failed", err, zap.String("conversation_id", conversationID))
		return ChatMessage{}, apperr.New(opSendMessage, "insert_failed", err)
	}
	s.publish(bus.Event{
		Name:           bus.EventChatMessage,
		ConversationID: conversationID,
		Payload: map[string]any{
			"messageId": message.MessageID,
			"senderId":  message.SenderID,
			"body":      message.Body,
			"sentAt":    message.SentAtSeconds,
		},
	})
	return message, nil
}

// ListMessages returns the conversation's chat history, oldest first.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	var messages []ChatMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sent_at_s ASC, message_id ASC").
		Find(&messages).Error
	if err != nil {
		s.logError(opListMessages, "query_failed", err, zap.String("conversation_id", conversationID))
		return nil, apperr.New(opListMessages, "query_failed", err)
	}
	return messages, nil
}

// UpdatePlan replaces the conversation's mentoring plan and announces it.
func (s *Service) UpdatePlan(ctx context.Context, conversationID, body string, updatedBy Role) (MentoringPlan, error) {
	plan := MentoringPlan{
		ConversationID:   conversationID,
		Body:             body,
		UpdatedByRole:    updatedBy,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Save(&plan).Error; err != nil {
		s.logError(opUpdatePlan, "save_failed", err, zap.String("conversation_id", conversationID))
		return MentoringPlan{}, apperr.New(opUpdatePlan, "save_failed", err)
	}
	s.publish(bus.Event{
		Name:           bus.EventPlanUpdated,
		ConversationID: conversationID,
		Payload: map[string]any{
			"updatedBy": string(plan.UpdatedByRole),
			"updatedAt": plan.UpdatedAtSeconds,
		},
	})
	return plan, nil
}

// GetPlan loads the conversation's mentoring plan.
func (s *Service) GetPlan(ctx context.Context, conversationID string) (MentoringPlan, error) {
	var plan MentoringPlan
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Take(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MentoringPlan{}, apperr.New(opGetPlan, "not_found", apperr.ErrNotFound)
	}
	if err != nil {
		s.logError(opGetPlan, "select_failed", err, zap.String("conversation_id", conversationID))
		return MentoringPlan{}, apperr.New(opGetPlan, "select_failed", err)
	}
	return plan, nil
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
	s.logger.Error("conversation service error", attrs...)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

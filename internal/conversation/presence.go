package conversation

import (
	"context"
	"errors"

	"github.com/northcove/compass/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opTouch  = "conversation.presence.touch"
	opIsAway = "conversation.presence.is_away"
)

// Touch records that the user just viewed or interacted with the
// conversation, upserting both presence timestamps to now.
func (s *Service) Touch(ctx context.Context, conversationID, userID string) error {
	if _, err := s.RoleOf(ctx, conversationID, userID); err != nil {
		return err
	}
	now := s.clock().UTC().Unix()
	record := Participant{
		ConversationID:      conversationID,
		UserID:              userID,
		LastSeenAtSeconds:   now,
		LastActiveAtSeconds: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at_s", "last_active_at_s"}),
	}).Create(&record).Error
	if err != nil {
		s.logError(opTouch, "upsert_failed", err,
			zap.String("conversation_id", conversationID),
			zap.String("user_id", userID))
		return apperr.New(opTouch, "upsert_failed", err)
	}
	return nil
}

// IsAway reports whether the user is not actively viewing the conversation.
// A missing participant record or any staleness at or beyond the configured
// threshold counts as away: when uncertain, callers should notify.
func (s *Service) IsAway(ctx context.Context, conversationID, userID string) (bool, error) {
	var record Participant
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		s.logError(opIsAway, "select_failed", err,
			zap.String("conversation_id", conversationID),
			zap.String("user_id", userID))
		return true, apperr.New(opIsAway, "select_failed", err)
	}
	gap := s.clock().UTC().Unix() - record.LastActiveAtSeconds
	return gap >= int64(s.awayThreshold.Seconds()), nil
}

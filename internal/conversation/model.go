package conversation

import (
	"errors"
	"strings"
)

// Status enumerates the lifecycle states of a mentorship term.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusEnded     Status = "ENDED"
)

// Role identifies which side of the pairing a user occupies.
type Role string

const (
	RoleMentor Role = "mentor"
	RoleMentee Role = "mentee"
)

// ErrInvalidStatus indicates a lifecycle value outside the known set.
var ErrInvalidStatus = errors.New("conversation: invalid status")

// ParseStatus validates a raw lifecycle value.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusActive:
		return StatusActive, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusCancelled:
		return StatusCancelled, nil
	case StatusEnded:
		return StatusEnded, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Conversation pairs exactly one mentor with one mentee for a mentorship
// term. A pair holds at most one ACTIVE record at a time but accumulates
// historical records over repeated terms. Records are never hard-deleted.
type Conversation struct {
	ID               string `gorm:"column:conversation_id;primaryKey;size:190;not null"`
	MentorID         string `gorm:"column:mentor_id;size:190;not null;index:idx_conversations_pair,priority:1"`
	MenteeID         string `gorm:"column:mentee_id;size:190;not null;index:idx_conversations_pair,priority:2"`
	Status           Status `gorm:"column:status;size:32;not null"`
	StartedAtSeconds int64  `gorm:"column:started_at_s;not null"`
	EndedAtSeconds   *int64 `gorm:"column:ended_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Conversation) TableName() string {
	return "conversations"
}

// Participant tracks per-user liveness inside a conversation. It is upserted
// on every view or heartbeat and consulted only for presence decisions.
type Participant struct {
	ConversationID      string `gorm:"column:conversation_id;primaryKey;size:190;not null"`
	UserID              string `gorm:"column:user_id;primaryKey;size:190;not null"`
	LastSeenAtSeconds   int64  `gorm:"column:last_seen_at_s;not null"`
	LastActiveAtSeconds int64  `gorm:"column:last_active_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Participant) TableName() string {
	return "conversation_participants"
}

// ChatMessage is one line of in-conversation chat between the pair.
type ChatMessage struct {
	MessageID      string `gorm:"column:message_id;primaryKey;size:190;not null"`
	ConversationID string `gorm:"column:conversation_id;size:190;not null;index:idx_chat_conversation_time,priority:1"`
	SenderID       string `gorm:"column:sender_id;size:190;not null"`
	Body           string `gorm:"column:body;type:text;not null"`
	SentAtSeconds  int64  `gorm:"column:sent_at_s;not null;index:idx_chat_conversation_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// MentoringPlan is the shared free-form plan for one conversation, replaced
// wholesale on update (last write wins).
type MentoringPlan struct {
	ConversationID   string `gorm:"column:conversation_id;primaryKey;size:190;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	UpdatedByRole    Role   `gorm:"column:updated_by_role;size:32;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MentoringPlan) TableName() string {
	return "mentoring_plans"
}

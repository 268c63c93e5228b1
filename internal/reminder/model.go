package reminder

import (
	"errors"
	"strings"
)

// Type enumerates the reminder kinds a participant may schedule.
type Type string

const (
	TypeFollowUp  Type = "follow_up"
	TypeInterview Type = "interview"
	TypeThankYou  Type = "thank_you"
)

// ErrInvalidType indicates a reminder kind outside the known set.
var ErrInvalidType = errors.New("reminder: invalid type")

// ParseType validates a raw reminder kind.
func ParseType(raw string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeFollowUp:
		return TypeFollowUp, nil
	case TypeInterview:
		return TypeInterview, nil
	case TypeThankYou:
		return TypeThankYou, nil
	default:
		return "", ErrInvalidType
	}
}

// Title renders the human-facing summary used in notifications and
// calendar exports.
func (t Type) Title() string {
	switch t {
	case TypeFollowUp:
		return "Follow-up due"
	case TypeInterview:
		return "Interview coming up"
	case TypeThankYou:
		return "Thank-you note due"
	default:
		return "Reminder due"
	}
}

// Status enumerates the reminder lifecycle. A reminder transitions to
// triggered exactly once and never reverts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusTriggered Status = "triggered"
)

// Reminder belongs to a conversation and optionally to one row.
type Reminder struct {
	ID               string `gorm:"column:reminder_id;primaryKey;size:190;not null"`
	ConversationID   string `gorm:"column:conversation_id;size:190;not null;index:idx_reminders_conversation"`
	RowID            string `gorm:"column:row_id;size:190;not null;default:''"`
	Type             Type   `gorm:"column:type;size:32;not null"`
	DueAtSeconds     int64  `gorm:"column:due_at_s;not null;index:idx_reminders_status_due,priority:2"`
	Status           Status `gorm:"column:status;size:32;not null;default:'pending';index:idx_reminders_status_due,priority:1"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Reminder) TableName() string {
	return "reminders"
}

// SweepResult aggregates one sweep invocation.
type SweepResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	TotalDue  int `json:"totalDue"`
}

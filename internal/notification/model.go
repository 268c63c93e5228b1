package notification

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Type enumerates the domain events that produce notifications.
type Type string

const (
	TypeSuggestionCreated  Type = "suggestion_created"
	TypeSuggestionResolved Type = "suggestion_resolved"
	TypeReminderDue        Type = "reminder_due"
	TypeChatMessage        Type = "chat_message"
	TypePlanUpdated        Type = "plan_updated"
	TypeRowUpdated         Type = "row_updated"
)

// Meta is the optional structured payload attached to a notification,
// persisted as JSON text.
type Meta map[string]string

// Value implements driver.Valuer.
func (m Meta) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (m *Meta) Scan(src any) error {
	switch typed := src.(type) {
	case nil:
		*m = Meta{}
		return nil
	case []byte:
		return json.Unmarshal(typed, m)
	case string:
		return json.Unmarshal([]byte(typed), m)
	default:
		return fmt.Errorf("notification: cannot scan meta from %T", src)
	}
}

// Notification is the durable per-user record. Absent ReadAtSeconds means
// unread; records are never deleted.
type Notification struct {
	ID               string `gorm:"column:notification_id;primaryKey;size:190;not null"`
	RecipientID      string `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient_time,priority:1"`
	ConversationID   string `gorm:"column:conversation_id;size:190;not null;index:idx_notifications_conversation"`
	Type             Type   `gorm:"column:type;size:64;not null"`
	Title            string `gorm:"column:title;size:255;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	Link             string `gorm:"column:link;size:512;not null;default:''"`
	Meta             Meta   `gorm:"column:meta;type:text"`
	ReadAtSeconds    *int64 `gorm:"column:read_at_s"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_notifications_recipient_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// ListFilter narrows List results.
type ListFilter struct {
	ConversationID string
	UnreadOnly     bool
}

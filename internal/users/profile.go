package users

import (
	"strings"
)

// Profile stores the last-known display details for a participant, refreshed
// from session claims on each authenticated request.
type Profile struct {
	UserID            string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email             string `gorm:"column:email;size:320"`
	DisplayName       string `gorm:"column:display_name;size:320"`
	LastSeenAtSeconds int64  `gorm:"column:last_seen_at_s;not null"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing user profiles.
func (Profile) TableName() string {
	return "user_profiles"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

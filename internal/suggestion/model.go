package suggestion

// Status enumerates the suggestion lifecycle. Both resolutions are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Suggestion is a proposed change to one field of one row, created by the
// mentor and resolved one-shot by the other participant. The old value is
// snapshotted server-side at proposal time so races against concurrent
// direct edits resolve toward the latest committed state. Immutable after
// resolution.
type Suggestion struct {
	ID                string `gorm:"column:suggestion_id;primaryKey;size:190;not null"`
	RowID             string `gorm:"column:row_id;size:190;not null;index:idx_suggestions_row"`
	ConversationID    string `gorm:"column:conversation_id;size:190;not null;index:idx_suggestions_conversation"`
	Field             string `gorm:"column:field;size:190;not null"`
	OldValueJSON      string `gorm:"column:old_value;type:text;not null"`
	ProposedValueJSON string `gorm:"column:proposed_value;type:text;not null"`
	ProposedByRole    string `gorm:"column:proposed_by_role;size:32;not null"`
	Status            Status `gorm:"column:status;size:32;not null;default:'pending'"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
	ResolvedAtSeconds *int64 `gorm:"column:resolved_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Suggestion) TableName() string {
	return "suggestions"
}

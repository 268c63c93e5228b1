package board

// Board is the shared application-tracking table for one conversation,
// lazily created with the default column set on first access.
type Board struct {
	ID               string `gorm:"column:board_id;primaryKey;size:190;not null"`
	ConversationID   string `gorm:"column:conversation_id;size:190;not null;uniqueIndex:idx_boards_conversation"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Board) TableName() string {
	return "boards"
}

// Column is one typed column of a board. Its identity is stable across
// renames and reorders so historical cell data never orphans; only the key
// is what rows reference.
type Column struct {
	ID       string     `gorm:"column:column_id;primaryKey;size:190;not null"`
	BoardID  string     `gorm:"column:board_id;size:190;not null;uniqueIndex:idx_columns_board_key,priority:1"`
	Key      string     `gorm:"column:key;size:190;not null;uniqueIndex:idx_columns_board_key,priority:2"`
	Label    string     `gorm:"column:label;size:255;not null"`
	Type     ColumnType `gorm:"column:type;size:32;not null"`
	Required bool       `gorm:"column:required;not null;default:false"`
	Options  StringList `gorm:"column:options;type:text"`
	Width    int        `gorm:"column:width;not null;default:0"`
	Position int        `gorm:"column:position;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Column) TableName() string {
	return "board_columns"
}

// Row is one tracked application: a sparse cell map plus tags and the two
// append-only trails. Cells mutate only through the commit path so history
// stays complete.
type Row struct {
	ID               string     `gorm:"column:row_id;primaryKey;size:190;not null"`
	BoardID          string     `gorm:"column:board_id;size:190;not null;index:idx_rows_board"`
	ConversationID   string     `gorm:"column:conversation_id;size:190;not null;index:idx_rows_conversation"`
	Cells            CellMap    `gorm:"column:cells;type:text;not null"`
	Tags             StringList `gorm:"column:tags;type:text"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64      `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Row) TableName() string {
	return "board_rows"
}

// HistoryEntry records one committed field change. Entries are immutable
// once appended.
type HistoryEntry struct {
	ID               string `gorm:"column:entry_id;primaryKey;size:190;not null"`
	RowID            string `gorm:"column:row_id;size:190;not null;index:idx_history_row_time,priority:1"`
	Field            string `gorm:"column:field;size:190;not null"`
	OldValueJSON     string `gorm:"column:old_value;type:text;not null"`
	NewValueJSON     string `gorm:"column:new_value;type:text;not null"`
	Role             string `gorm:"column:role;size:32;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_history_row_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (HistoryEntry) TableName() string {
	return "board_row_history"
}

// ActivityEntry is one free-text note on a row, timestamped and attributed
// to a role. Immutable once appended.
type ActivityEntry struct {
	ID               string `gorm:"column:entry_id;primaryKey;size:190;not null"`
	RowID            string `gorm:"column:row_id;size:190;not null;index:idx_activity_row_time,priority:1"`
	Note             string `gorm:"column:note;type:text;not null"`
	Role             string `gorm:"column:role;size:32;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_activity_row_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ActivityEntry) TableName() string {
	return "board_row_activity"
}

// StatusColumnKey is the conventional key of the application-status column
// the dashboard aggregates over.
const StatusColumnKey = "status"

// DefaultStatusOptions is the seeded option list of the status column.
var DefaultStatusOptions = StringList{"saved", "submitted", "interview", "offer", "rejected", "accepted"}

// ColumnSpec is the client-supplied shape of one column in SetColumns.
type ColumnSpec struct {
	Key      string
	Label    string
	Type     ColumnType
	Required bool
	Options  StringList
	Width    int
}

func defaultColumnSpecs() []ColumnSpec {
	return []ColumnSpec{
		{Key: "company", Label: "Company", Type: ColumnTypeText, Required: true, Width: 180},
		{Key: "position", Label: "Position", Type: ColumnTypeText, Required: true, Width: 220},
		{Key: StatusColumnKey, Label: "Status", Type: ColumnTypeSelect, Required: true, Options: DefaultStatusOptions, Width: 140},
		{Key: "applied_on", Label: "Applied on", Type: ColumnTypeDate, Width: 120},
		{Key: "notes", Label: "Notes", Type: ColumnTypeText, Width: 280},
	}
}

// Stats aggregates a conversation's rows for the dashboard.
type Stats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"byStatus"`
}

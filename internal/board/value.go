package board

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ColumnType enumerates the value types a column may declare.
type ColumnType string

const (
	ColumnTypeText   ColumnType = "text"
	ColumnTypeNumber ColumnType = "number"
	ColumnTypeDate   ColumnType = "date"
	ColumnTypeSelect ColumnType = "select"
)

// ValueKind tags the variant held by a CellValue.
type ValueKind string

const (
	KindText   ValueKind = "text"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindNull   ValueKind = "null"
)

var (
	// ErrInvalidCellValue indicates a wire value outside the closed scalar set.
	ErrInvalidCellValue = errors.New("board: invalid cell value")
	// ErrTypeMismatch indicates a value incompatible with the column's declared type.
	ErrTypeMismatch = errors.New("board: value does not match column type")
)

// CellValue is the closed variant stored in a row cell: text, number, bool or
// null. Dates travel as ISO text and are validated against the column type at
// write time, not trusted implicitly.
type CellValue struct {
	Kind   ValueKind
	Text   string
	Number float64
	Bool   bool
}

// TextValue builds a text cell value.
func TextValue(value string) CellValue {
	return CellValue{Kind: KindText, Text: value}
}

// NumberValue builds a numeric cell value.
func NumberValue(value float64) CellValue {
	return CellValue{Kind: KindNumber, Number: value}
}

// BoolValue builds a boolean cell value.
func BoolValue(value bool) CellValue {
	return CellValue{Kind: KindBool, Bool: value}
}

// NullValue builds the null cell value.
func NullValue() CellValue {
	return CellValue{Kind: KindNull}
}

// IsNull reports whether the value is the null variant. The zero CellValue
// counts as null so sparse cell maps behave.
func (v CellValue) IsNull() bool {
	return v.Kind == KindNull || v.Kind == ""
}

// Equal reports semantic equality of two cell values.
func (v CellValue) Equal(other CellValue) bool {
	if v.IsNull() || other.IsNull() {
		return v.IsNull() == other.IsNull()
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindText:
		return v.Text == other.Text
	case KindNumber:
		return v.Number == other.Number
	case KindBool:
		return v.Bool == other.Bool
	default:
		return false
	}
}

// MarshalJSON renders the value as a bare JSON scalar.
func (v CellValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindText:
		return json.Marshal(v.Text)
	case KindNumber:
		return json.Marshal(v.Number)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNull, "":
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCellValue, v.Kind)
	}
}

// UnmarshalJSON accepts a bare JSON scalar and rejects arrays and objects.
func (v *CellValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCellValue, err)
	}
	switch typed := raw.(type) {
	case nil:
		*v = NullValue()
	case string:
		*v = TextValue(typed)
	case float64:
		*v = NumberValue(typed)
	case bool:
		*v = BoolValue(typed)
	default:
		return fmt.Errorf("%w: composite values are not allowed", ErrInvalidCellValue)
	}
	return nil
}

// CellMap is the sparse column-key to cell-value mapping persisted as JSON
// text, so adding a column never migrates existing rows.
type CellMap map[string]CellValue

// Value implements driver.Valuer.
func (m CellMap) Value() (driver.Value, error) {
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
func (m *CellMap) Scan(src any) error {
	switch typed := src.(type) {
	case nil:
		*m = CellMap{}
		return nil
	case []byte:
		return json.Unmarshal(typed, m)
	case string:
		return json.Unmarshal([]byte(typed), m)
	default:
		return fmt.Errorf("board: cannot scan cell map from %T", src)
	}
}

// StringList is a JSON-encoded list of strings (tags, select options).
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch typed := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		return json.Unmarshal(typed, l)
	case string:
		return json.Unmarshal([]byte(typed), l)
	default:
		return fmt.Errorf("board: cannot scan string list from %T", src)
	}
}

func (l StringList) contains(value string) bool {
	for _, item := range l {
		if item == value {
			return true
		}
	}
	return false
}

// ValidateAgainstColumn checks a candidate value against the column's
// declared type and constraints before any write.
func ValidateAgainstColumn(column Column, value CellValue) error {
	if value.IsNull() {
		if column.Required {
			return fmt.Errorf("%w: column %q is required", ErrTypeMismatch, column.Key)
		}
		return nil
	}
	switch column.Type {
	case ColumnTypeText:
		if value.Kind != KindText {
			return fmt.Errorf("%w: column %q expects text", ErrTypeMismatch, column.Key)
		}
	case ColumnTypeNumber:
		if value.Kind != KindNumber {
			return fmt.Errorf("%w: column %q expects a number", ErrTypeMismatch, column.Key)
		}
	case ColumnTypeDate:
		if value.Kind != KindText {
			return fmt.Errorf("%w: column %q expects an ISO date string", ErrTypeMismatch, column.Key)
		}
		if !isISODate(value.Text) {
			return fmt.Errorf("%w: column %q expects an ISO date, got %q", ErrTypeMismatch, column.Key, value.Text)
		}
	case ColumnTypeSelect:
		if value.Kind != KindText {
			return fmt.Errorf("%w: column %q expects one of its options", ErrTypeMismatch, column.Key)
		}
		if !column.Options.contains(value.Text) {
			return fmt.Errorf("%w: %q is not an option of column %q", ErrTypeMismatch, value.Text, column.Key)
		}
	default:
		return fmt.Errorf("%w: unknown column type %q", ErrTypeMismatch, column.Type)
	}
	return nil
}

func isISODate(value string) bool {
	if _, err := time.Parse("2006-01-02", value); err == nil {
		return true
	}
	if _, err := time.Parse(time.RFC3339, value); err == nil {
		return true
	}
	return false
}

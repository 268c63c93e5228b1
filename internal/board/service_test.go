package board

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/northcove/compass/backend/internal/apperr"
	"github.com/northcove/compass/backend/internal/bus"
	"github.com/northcove/compass/backend/internal/conversation"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

func newTestService(t *testing.T) (*Service, *bus.Bus, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:compass_board_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Board{}, &Column{}, &Row{}, &HistoryEntry{}, &ActivityEntry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	eventBus := bus.New()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000600, 0).UTC() },
		IDProvider: &sequenceIDGenerator{prefix: "id"},
		Bus:        eventBus,
	})
	if err != nil {
		t.Fatalf("failed to construct board service: %v", err)
	}
	return service, eventBus, db
}

func mustCreateRow(t *testing.T, service *Service, conversationID string) Row {
	t.Helper()
	row, err := service.CreateRow(context.Background(), conversationID, CellMap{
		"company":  TextValue("Acme"),
		"position": TextValue("Backend Engineer"),
		"status":   TextValue("submitted"),
	}, nil, conversation.RoleMentee)
	if err != nil {
		t.Fatalf("unexpected row create error: %v", err)
	}
	return row
}

func TestGetOrCreateBoardIsIdempotent(t *testing.T) {
	service, _, db := newTestService(t)
	ctx := context.Background()

	first, columns, err := service.GetOrCreateBoard(ctx, "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(columns) != len(defaultColumnSpecs()) {
		t.Fatalf("expected %d default columns, got %d", len(defaultColumnSpecs()), len(columns))
	}

	second, _, err := service.GetOrCreateBoard(ctx, "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same board, got %s and %s", first.ID, second.ID)
	}

	var total int64
	if err := db.Model(&Board{}).Count(&total).Error; err != nil {
		t.Fatalf("failed to count boards: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected exactly one board, got %d", total)
	}
}

func TestSetColumnsRejectsDuplicateKeysWithoutWriting(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, before, err := service.GetOrCreateBoard(ctx, "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = service.SetColumns(ctx, "conv-1", []ColumnSpec{
		{Key: "company", Label: "Company", Type: ColumnTypeText},
		{Key: "company", Label: "Company again", Type: ColumnTypeText},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, after, err := service.GetOrCreateBoard(ctx, "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("columns must remain unchanged after rejection: %d vs %d", len(after), len(before))
	}
}

func TestSetColumnsRejectsSelectWithoutOptions(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.SetColumns(context.Background(), "conv-1", []ColumnSpec{
		{Key: "status", Label: "Status", Type: ColumnTypeSelect},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSetColumnsPreservesIdentityForReusedKeys(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, before, err := service.GetOrCreateBoard(ctx, "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idByKey := make(map[string]string, len(before))
	for _, column := range before {
		idByKey[column.Key] = column.ID
	}

	after, err := service.SetColumns(ctx, "conv-1", []ColumnSpec{
		{Key: "company", Label: "Employer", Type: ColumnTypeText, Required: true},
		{Key: "status", Label: "Stage", Type: ColumnTypeSelect, Options: StringList{"submitted", "interview"}},
		{Key: "referral", Label: "Referral", Type: ColumnTypeText},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(after) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(after))
	}

	byKey := make(map[string]Column, len(after))
	for _, column := range after {
		byKey[column.Key] = column
	}
	if byKey["company"].ID != idByKey["company"] {
		t.Fatal("reused key must keep its column identity")
	}
	if byKey["company"].Label != "Employer" {
		t.Fatalf("expected relabel to apply, got %q", byKey["company"].Label)
	}
	if byKey["status"].ID != idByKey["status"] {
		t.Fatal("reused key must keep its column identity")
	}
	if byKey["referral"].ID == "" || byKey["referral"].ID == idByKey["notes"] {
		t.Fatal("new key must get a fresh identity")
	}
	if _, removed := byKey["notes"]; removed {
		t.Fatal("dropped key must be deleted")
	}
	if byKey["company"].Position != 0 || byKey["status"].Position != 1 || byKey["referral"].Position != 2 {
		t.Fatalf("unexpected ordering: %#v", after)
	}
}

func TestCreateRowEnforcesSchema(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.CreateRow(ctx, "conv-1", CellMap{
		"company": TextValue("Acme"),
	}, nil, conversation.RoleMentee)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected missing-required rejection, got %v", err)
	}

	_, err = service.CreateRow(ctx, "conv-1", CellMap{
		"company":  TextValue("Acme"),
		"position": TextValue("Backend Engineer"),
		"status":   TextValue("submitted"),
		"mystery":  TextValue("x"),
	}, nil, conversation.RoleMentee)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected unknown-field rejection, got %v", err)
	}
}

func TestCommitCellChangeAppendsOneHistoryEntry(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	row := mustCreateRow(t, service, "conv-1")

	updated, err := service.CommitCellChange(ctx, row.ID, "status", TextValue("interview"), conversation.RoleMentor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := updated.Cells["status"]; got.Text != "interview" {
		t.Fatalf("expected committed value, got %#v", got)
	}

	history, err := service.RowHistory(ctx, row.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one history entry, got %d", len(history))
	}
	entry := history[0]
	if entry.Field != "status" {
		t.Fatalf("unexpected field %q", entry.Field)
	}
	if entry.OldValueJSON != `"submitted"` {
		t.Fatalf("expected prior value to be captured, got %s", entry.OldValueJSON)
	}
	if entry.NewValueJSON != `"interview"` {
		t.Fatalf("expected new value to be captured, got %s", entry.NewValueJSON)
	}
	if entry.Role != string(conversation.RoleMentor) {
		t.Fatalf("expected mentor attribution, got %q", entry.Role)
	}
}

func TestCommitCellChangeValidatesAgainstColumn(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	row := mustCreateRow(t, service, "conv-1")

	_, err := service.CommitCellChange(ctx, row.ID, "status", TextValue("ghosted"), conversation.RoleMentor)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected option rejection, got %v", err)
	}
	_, err = service.CommitCellChange(ctx, row.ID, "no_such_field", TextValue("x"), conversation.RoleMentor)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected unknown-field rejection, got %v", err)
	}
	_, err = service.CommitCellChange(ctx, "missing-row", "status", TextValue("interview"), conversation.RoleMentor)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}

	history, err := service.RowHistory(ctx, row.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("rejected writes must not append history, got %d entries", len(history))
	}
}

func TestCommitCellChangePublishesRowAndStats(t *testing.T) {
	service, eventBus, _ := newTestService(t)
	ctx := context.Background()
	row := mustCreateRow(t, service, "conv-1")

	var rowEvents, statsEvents []bus.Event
	eventBus.Subscribe(bus.EventRowUpdated, func(e bus.Event) {
		rowEvents = append(rowEvents, e)
	})
	eventBus.Subscribe(bus.EventStatsUpdated, func(e bus.Event) {
		statsEvents = append(statsEvents, e)
	})

	if _, err := service.CommitCellChange(ctx, row.ID, "status", TextValue("interview"), conversation.RoleMentor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rowEvents) != 1 {
		t.Fatalf("expected one row.updated event, got %d", len(rowEvents))
	}
	if rowEvents[0].ConversationID != "conv-1" {
		t.Fatalf("event tagged with wrong conversation: %s", rowEvents[0].ConversationID)
	}
	cells, ok := rowEvents[0].Payload["cells"].(CellMap)
	if !ok || cells["status"].Text != "interview" {
		t.Fatalf("expected updated row state in payload, got %#v", rowEvents[0].Payload["cells"])
	}
	if len(statsEvents) != 1 {
		t.Fatalf("expected one stats.updated event, got %d", len(statsEvents))
	}
}

func TestAddActivityAppendsAndAnnounces(t *testing.T) {
	service, eventBus, _ := newTestService(t)
	ctx := context.Background()
	row := mustCreateRow(t, service, "conv-1")

	events := 0
	eventBus.Subscribe(bus.EventActivityCreated, func(bus.Event) {
		events++
	})

	if _, err := service.AddActivity(ctx, row.ID, "  phone screen booked  ", conversation.RoleMentee); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := service.AddActivity(ctx, row.ID, "   ", conversation.RoleMentee)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected empty-note rejection, got %v", err)
	}

	entries, err := service.RowActivity(ctx, row.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one activity entry, got %d", len(entries))
	}
	if entries[0].Note != "phone screen booked" {
		t.Fatalf("expected trimmed note, got %q", entries[0].Note)
	}
	if events != 1 {
		t.Fatalf("expected one activity event, got %d", events)
	}

	history, err := service.RowHistory(ctx, row.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 0 {
		t.Fatal("activity notes must not touch the history log")
	}
}

func TestDeleteBoardIsMentorOnlyAndCascades(t *testing.T) {
	service, _, db := newTestService(t)
	ctx := context.Background()
	row := mustCreateRow(t, service, "conv-1")
	if _, err := service.CommitCellChange(ctx, row.ID, "status", TextValue("interview"), conversation.RoleMentor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.AddActivity(ctx, row.ID, "call scheduled", conversation.RoleMentee); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := service.DeleteBoard(ctx, "conv-1", conversation.RoleMentee)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for mentee, got %v", err)
	}

	if err := service.DeleteBoard(ctx, "conv-1", conversation.RoleMentor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, model := range []interface{}{&Board{}, &Column{}, &Row{}, &HistoryEntry{}, &ActivityEntry{}} {
		var total int64
		if err := db.Model(model).Count(&total).Error; err != nil {
			t.Fatalf("failed to count %T: %v", model, err)
		}
		if total != 0 {
			t.Fatalf("expected cascade to remove all %T records, found %d", model, total)
		}
	}
}

func TestStatsAggregatesByStatus(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	mustCreateRow(t, service, "conv-1")
	second := mustCreateRow(t, service, "conv-1")
	if _, err := service.CommitCellChange(ctx, second.ID, "status", TextValue("interview"), conversation.RoleMentor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := service.Stats(ctx, "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 rows, got %d", stats.Total)
	}
	if stats.ByStatus["submitted"] != 1 || stats.ByStatus["interview"] != 1 {
		t.Fatalf("unexpected status counts: %#v", stats.ByStatus)
	}
}

package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/northcove/compass/backend/internal/conversation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestMigrateEnforcesSingleActivePair(t *testing.T) {
	tempDir := t.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	if err := Migrate(database, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	first := conversation.Conversation{
		ID:               "conv-1",
		MentorID:         "mentor-1",
		MenteeID:         "mentee-1",
		Status:           conversation.StatusActive,
		StartedAtSeconds: 100,
	}
	if err := database.Create(&first).Error; err != nil {
		t.Fatalf("failed to insert conversation: %v", err)
	}

	duplicate := conversation.Conversation{
		ID:               "conv-2",
		MentorID:         "mentor-1",
		MenteeID:         "mentee-1",
		Status:           conversation.StatusActive,
		StartedAtSeconds: 200,
	}
	if err := database.Create(&duplicate).Error; err == nil {
		t.Fatal("expected unique index to reject second active pair")
	}

	// A completed record for the same pair is allowed alongside an active one.
	completed := conversation.Conversation{
		ID:               "conv-3",
		MentorID:         "mentor-1",
		MenteeID:         "mentee-1",
		Status:           conversation.StatusCompleted,
		StartedAtSeconds: 50,
	}
	if err := database.Create(&completed).Error; err != nil {
		t.Fatalf("expected non-active duplicate to be accepted: %v", err)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationUniqueActivePair).Take(&record).Error; err != nil {
		t.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		t.Fatalf("expected migration timestamp to be set")
	}

	// Re-running is a no-op.
	if err := Migrate(database, zap.NewNop()); err != nil {
		t.Fatalf("expected idempotent migration, got %v", err)
	}
}

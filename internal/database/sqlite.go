package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/northcove/compass/backend/internal/board"
	"github.com/northcove/compass/backend/internal/conversation"
	"github.com/northcove/compass/backend/internal/notification"
	"github.com/northcove/compass/backend/internal/reminder"
	"github.com/northcove/compass/backend/internal/suggestion"
	"github.com/northcove/compass/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate brings the schema up to date on an already-open connection.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	err := db.AutoMigrate(
		&conversation.Conversation{},
		&conversation.Participant{},
		&conversation.ChatMessage{},
		&conversation.MentoringPlan{},
		&board.Board{},
		&board.Column{},
		&board.Row{},
		&board.HistoryEntry{},
		&board.ActivityEntry{},
		&suggestion.Suggestion{},
		&notification.Notification{},
		&reminder.Reminder{},
		&users.Profile{},
		&migrationRecord{},
	)
	if err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.AllModels()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return EnsureSyncIndexes(db)
}

// EnsureSyncIndexes creates the partial indexes the drain and dispatch
// queries depend on. Both Postgres and SQLite accept this syntax.
func EnsureSyncIndexes(db *gorm.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending_due ON outbox_event (priority, created_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_notification_job_pending ON notification_job (scheduled_for) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letter_unreplayed ON outbox_dead_letter (failed_at) WHERE replay_count = 0`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return fmt.Errorf("ensure sync indexes: %w", err)
		}
	}
	return nil
}

package migration_1

import (
	"fmt"

	"gorm.io/gorm"
)

type RateLimitEntry struct {
	ResetAtMs int64 `gorm:"not null;index"`
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().CreateIndex(&RateLimitEntry{}, "ResetAtMs"); err != nil {
		return fmt.Errorf("error creating reset_at_ms index: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropIndex(&RateLimitEntry{}, "ResetAtMs"); err != nil {
		return fmt.Errorf("error dropping reset_at_ms index: %w", err)
	}

	return nil
}

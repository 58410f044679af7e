package migration_0

import (
	"fmt"

	"gorm.io/gorm"
)

type RateLimitEntry struct {
	Identifier string `gorm:"primaryKey;size:255"`
	Count      int    `gorm:"not null;default:0"`
	ResetAtMs  int64  `gorm:"not null"`
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&RateLimitEntry{}); err != nil {
		return fmt.Errorf("error creating rate_limit_entries table: %w", err)
	}
	return nil
}

package database

type RateLimitEntry struct {
	Identifier string `gorm:"primaryKey;size:255"`
	Count      int    `gorm:"not null;default:0"`
	ResetAtMs  int64  `gorm:"not null;index"`
}

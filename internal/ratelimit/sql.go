package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"assistant-proxy/internal/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxSQLAttempts = 3

var errConcurrentInsert = errors.New("rate limit entry inserted concurrently")

// SQLBackend shares windows between replicas through a database table.
type SQLBackend struct {
	db     *gorm.DB
	sqlite bool
	// SQLite only supports one writer at a time, so writes are serialized in
	// process as well.
	writeLock sync.Mutex
}

func NewSQLBackend(db *gorm.DB) *SQLBackend {
	return &SQLBackend{db: db, sqlite: database.IsSQLite(db)}
}

func (b *SQLBackend) Take(ctx context.Context, identifier string, now time.Time, window time.Duration, limit int) (Result, error) {
	if b.sqlite {
		b.writeLock.Lock()
		defer b.writeLock.Unlock()
	}

	var err error
	for attempt := 0; attempt < maxSQLAttempts; attempt++ {
		var res Result
		res, err = b.take(ctx, identifier, now, window, limit)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, errConcurrentInsert) {
			break
		}
	}

	slog.Error("error updating rate limit entry", "identifier", identifier, "error", err)
	return Result{}, fmt.Errorf("error updating rate limit entry: %w", err)
}

func (b *SQLBackend) take(ctx context.Context, identifier string, now time.Time, window time.Duration, limit int) (Result, error) {
	var res Result

	err := b.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		query := txn
		if !b.sqlite {
			query = txn.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var row database.RateLimitEntry
		var current *Entry
		err := query.Where("identifier = ?", identifier).First(&row).Error
		switch {
		case err == nil:
			current = &Entry{Identifier: row.Identifier, Count: row.Count, ResetAt: time.UnixMilli(row.ResetAtMs)}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		next, decision, changed := Apply(current, identifier, now, window, limit)
		res = decision
		if !changed {
			return nil
		}

		updated := database.RateLimitEntry{Identifier: identifier, Count: next.Count, ResetAtMs: next.ResetAt.UnixMilli()}

		if current == nil {
			result := txn.Clauses(clause.OnConflict{DoNothing: true}).Create(&updated)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return errConcurrentInsert
			}
			return nil
		}

		return txn.Model(&database.RateLimitEntry{}).
			Where("identifier = ?", identifier).
			Updates(map[string]any{"count": updated.Count, "reset_at_ms": updated.ResetAtMs}).
			Error
	})
	if err != nil {
		return Result{}, err
	}

	// Stored resets have millisecond precision.
	res.Reset = time.UnixMilli(res.Reset.UnixMilli())
	return res, nil
}

// Sweep deletes rows whose window has elapsed.
func (b *SQLBackend) Sweep(ctx context.Context, now time.Time) (int64, error) {
	if b.sqlite {
		b.writeLock.Lock()
		defer b.writeLock.Unlock()
	}

	result := b.db.WithContext(ctx).Where("reset_at_ms <= ?", now.UnixMilli()).Delete(&database.RateLimitEntry{})
	if result.Error != nil {
		slog.Error("error sweeping rate limit entries", "error", result.Error)
		return 0, fmt.Errorf("error sweeping rate limit entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"assistant-proxy/internal/database"
	"assistant-proxy/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

func TestSQLBackendWindow(t *testing.T) {
	testWindowProperty(t, ratelimit.NewSQLBackend(createDB(t)))
}

func TestSQLBackendConcurrentRequests(t *testing.T) {
	testConcurrentRequests(t, ratelimit.NewSQLBackend(createDB(t)), 50)
}

func TestSQLBackendPersistsEntries(t *testing.T) {
	db := createDB(t)
	clock := newFakeClock()
	limiter := ratelimit.NewLimiter(ratelimit.NewSQLBackend(db), ratelimit.WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		_, err := limiter.Check(context.Background(), "203.0.113.9")
		require.NoError(t, err)
	}

	var row database.RateLimitEntry
	require.NoError(t, db.Where("identifier = ?", "203.0.113.9").First(&row).Error)
	assert.Equal(t, 3, row.Count)
	assert.Equal(t, clock.Now().Add(ratelimit.DefaultWindow).UnixMilli(), row.ResetAtMs)
}

func TestSQLBackendSweep(t *testing.T) {
	db := createDB(t)
	clock := newFakeClock()
	backend := ratelimit.NewSQLBackend(db)
	limiter := ratelimit.NewLimiter(backend, ratelimit.WithClock(clock.Now))
	ctx := context.Background()

	_, err := limiter.Check(ctx, "old")
	require.NoError(t, err)
	clock.Advance(45 * time.Second)
	_, err = limiter.Check(ctx, "new")
	require.NoError(t, err)
	clock.Advance(15 * time.Second)

	removed, err := backend.Sweep(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var count int64
	require.NoError(t, db.Model(&database.RateLimitEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

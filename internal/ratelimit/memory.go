package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryBackend keeps windows in process memory. Limits are per process, so a
// deployment with several replicas needs SQLBackend or RedisBackend instead.
type MemoryBackend struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxEntries int
}

// NewMemoryBackend creates a backend holding at most maxEntries identifiers,
// 0 means unbounded.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	return &MemoryBackend{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
}

func (b *MemoryBackend) Take(ctx context.Context, identifier string, now time.Time, window time.Duration, limit int) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.entries[identifier]
	next, res, changed := Apply(current, identifier, now, window, limit)
	if !changed {
		return res, nil
	}

	if current == nil && b.maxEntries > 0 && len(b.entries) >= b.maxEntries {
		b.evictLocked(now)
	}

	if current != nil {
		*current = next
	} else {
		b.entries[identifier] = &next
	}

	return res, nil
}

// evictLocked frees room for one entry: expired windows go first, otherwise
// the entry closest to its reset is dropped.
func (b *MemoryBackend) evictLocked(now time.Time) {
	if b.sweepLocked(now) > 0 {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, entry := range b.entries {
		if oldestKey == "" || entry.ResetAt.Before(oldest) {
			oldestKey = key
			oldest = entry.ResetAt
		}
	}
	delete(b.entries, oldestKey)
}

func (b *MemoryBackend) sweepLocked(now time.Time) int {
	removed := 0
	for key, entry := range b.entries {
		if !entry.ResetAt.After(now) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed
}

// Sweep drops every entry whose window has elapsed and returns how many were
// removed.
func (b *MemoryBackend) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sweepLocked(now)
}

func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (b *MemoryBackend) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := b.Sweep(now); removed > 0 {
				slog.Debug("swept expired rate limit entries", "removed", removed)
			}
		}
	}
}

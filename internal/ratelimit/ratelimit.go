package ratelimit

import (
	"context"
	"math"
	"time"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 20
)

type Result struct {
	Success   bool
	Remaining int
	Reset     time.Time
}

// RetryAfter returns the whole number of seconds until the window resets,
// never negative.
func (r Result) RetryAfter(now time.Time) int {
	secs := math.Ceil(float64(r.Reset.Sub(now)) / float64(time.Second))
	return max(0, int(secs))
}

type Entry struct {
	Identifier string
	Count      int
	ResetAt    time.Time
}

// Apply evaluates one request against the current entry for an identifier
// (nil if there is none). It returns the entry that should be stored, the
// decision, and whether the stored entry has to change. A rejected request
// never changes the entry.
func Apply(current *Entry, identifier string, now time.Time, window time.Duration, limit int) (Entry, Result, bool) {
	if current == nil || !current.ResetAt.After(now) {
		next := Entry{Identifier: identifier, Count: 1, ResetAt: now.Add(window)}
		return next, Result{Success: true, Remaining: limit - 1, Reset: next.ResetAt}, true
	}

	if current.Count >= limit {
		return *current, Result{Success: false, Remaining: 0, Reset: current.ResetAt}, false
	}

	next := *current
	next.Count++
	return next, Result{Success: true, Remaining: limit - next.Count, Reset: next.ResetAt}, true
}

// Backend stores the per-identifier windows. Take must evaluate and record a
// request atomically with respect to other calls for the same identifier.
type Backend interface {
	Take(ctx context.Context, identifier string, now time.Time, window time.Duration, limit int) (Result, error)
}

type Limiter struct {
	backend Backend
	window  time.Duration
	limit   int
	now     func() time.Time
}

type Option func(*Limiter)

func WithWindow(window time.Duration) Option {
	return func(l *Limiter) {
		if window > 0 {
			l.window = window
		}
	}
}

func WithLimit(limit int) Option {
	return func(l *Limiter) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(backend Backend, opts ...Option) *Limiter {
	l := &Limiter{
		backend: backend,
		window:  DefaultWindow,
		limit:   DefaultLimit,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Check(ctx context.Context, identifier string) (Result, error) {
	return l.backend.Take(ctx, identifier, l.now(), l.window, l.limit)
}

func (l *Limiter) Now() time.Time {
	return l.now()
}

func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) Window() time.Duration {
	return l.window
}

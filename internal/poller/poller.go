package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"

	DefaultMaxWait  = 120 * time.Second
	DefaultInterval = time.Second
)

type State int

const (
	Pending State = iota
	Completed
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition maps the latest observed run status and the time spent waiting to
// the poller state. Only pending statuses can time out.
func Transition(status string, elapsed, maxWait time.Duration) State {
	switch status {
	case StatusQueued, StatusInProgress:
		if elapsed > maxWait {
			return TimedOut
		}
		return Pending
	case StatusCompleted:
		return Completed
	default:
		return Failed
	}
}

type TimeoutError struct {
	Elapsed    time.Duration
	MaxWait    time.Duration
	LastStatus string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run still %s after %v (max wait %v)", e.LastStatus, e.Elapsed, e.MaxWait)
}

type RunFailureError struct {
	Status string
}

func (e *RunFailureError) Error() string {
	return fmt.Sprintf("run finished with status: %s", e.Status)
}

type Clock interface {
	Now() time.Time
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

type systemSleeper struct{}

func (systemSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	SystemClock   Clock   = systemClock{}
	SystemSleeper Sleeper = systemSleeper{}
)

// StatusFunc fetches the current status of the remote run.
type StatusFunc func(ctx context.Context) (string, error)

type Poller struct {
	maxWait  time.Duration
	interval time.Duration
	clock    Clock
	sleeper  Sleeper
}

type Option func(*Poller)

func WithMaxWait(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.maxWait = d
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithClock(clock Clock) Option {
	return func(p *Poller) {
		p.clock = clock
	}
}

func WithSleeper(sleeper Sleeper) Option {
	return func(p *Poller) {
		p.sleeper = sleeper
	}
}

func New(opts ...Option) *Poller {
	p := &Poller{
		maxWait:  DefaultMaxWait,
		interval: DefaultInterval,
		clock:    SystemClock,
		sleeper:  SystemSleeper,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) MaxWait() time.Duration {
	return p.maxWait
}

func (p *Poller) Interval() time.Duration {
	return p.interval
}

// AwaitCompletion polls fetch until the run reaches a terminal status. It
// returns nil for a completed run, a *RunFailureError for any other terminal
// status and a *TimeoutError once the run has been pending for longer than the
// max wait. The remote run is never cancelled.
func (p *Poller) AwaitCompletion(ctx context.Context, fetch StatusFunc) error {
	start := p.clock.Now()

	status, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("error retrieving run status: %w", err)
	}

	for polls := 1; ; polls++ {
		elapsed := p.clock.Now().Sub(start)

		switch Transition(status, elapsed, p.maxWait) {
		case Completed:
			slog.Debug("run completed", "polls", polls, "elapsed", elapsed)
			return nil
		case Failed:
			return &RunFailureError{Status: status}
		case TimedOut:
			return &TimeoutError{Elapsed: elapsed, MaxWait: p.maxWait, LastStatus: status}
		}

		if err := p.sleeper.Sleep(ctx, p.interval); err != nil {
			return fmt.Errorf("stopped waiting for run: %w", err)
		}

		status, err = fetch(ctx)
		if err != nil {
			return fmt.Errorf("error retrieving run status: %w", err)
		}
	}
}

package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	RunEventsQueue  = "chat_run_events"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
	OutcomeError     = "error"
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// RunEvent describes the outcome of one assistant run. It carries no message
// content.
type RunEvent struct {
	Id          uuid.UUID
	ThreadId    string
	RunId       string
	AssistantId string
	Outcome     string
	Status      string
	Replies     int
	DurationMs  int64
	Timestamp   time.Time
}

type Publisher interface {
	PublishRunEvent(ctx context.Context, event RunEvent) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}

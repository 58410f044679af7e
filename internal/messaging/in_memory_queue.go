package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

type inMemoryTask struct {
	queue   string
	payload []byte
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

// InMemoryQueue is a bounded publisher and receiver in one. Publishing never
// blocks, events are dropped once the buffer is full.
type InMemoryQueue struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan Task
}

func NewInMemoryQueue(size int) *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make(chan Task, size),
	}
}

func (q *InMemoryQueue) publishTaskInternal(queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return errors.New("in memory queue is closed")
	}

	select {
	case q.tasks <- &inMemoryTask{queue: queue, payload: data}:
	default:
		slog.Warn("in memory queue is full, dropping task", "queue", queue)
	}

	return nil
}

func (q *InMemoryQueue) PublishRunEvent(ctx context.Context, event RunEvent) error {
	return q.publishTaskInternal(RunEventsQueue, event)
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

// Close stops publishing. Tasks already buffered can still be read.
func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}

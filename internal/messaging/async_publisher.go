package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultAsyncBuffer  = 256
	DefaultAsyncTimeout = 10 * time.Second
)

// AsyncPublisher hands events to a background goroutine that forwards them to
// the wrapped publisher, so callers never wait on the broker. When the buffer
// is full events are dropped. Each forwarded event gets its own timeout since
// the caller's context is usually gone by then.
type AsyncPublisher struct {
	next    Publisher
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan RunEvent
	done   chan struct{}
	once   sync.Once
}

func NewAsyncPublisher(next Publisher, size int, timeout time.Duration) *AsyncPublisher {
	if size <= 0 {
		size = DefaultAsyncBuffer
	}
	if timeout <= 0 {
		timeout = DefaultAsyncTimeout
	}

	p := &AsyncPublisher{
		next:    next,
		timeout: timeout,
		events:  make(chan RunEvent, size),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) run() {
	defer close(p.done)

	for event := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.next.PublishRunEvent(ctx, event); err != nil {
			slog.Warn("failed to forward run event", "run_id", event.RunId, "error", err)
		}
		cancel()
	}
}

func (p *AsyncPublisher) PublishRunEvent(ctx context.Context, event RunEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.New("async publisher is closed")
	}

	select {
	case p.events <- event:
	default:
		slog.Warn("run event buffer is full, dropping event", "run_id", event.RunId)
	}
	return nil
}

// Close stops accepting events, waits for the buffered ones to be forwarded
// and closes the wrapped publisher.
func (p *AsyncPublisher) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()

		<-p.done
		p.next.Close()
	})
}

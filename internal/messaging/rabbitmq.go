package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Run events are telemetry, nobody needs them after a day.
const runEventTTL = 24 * time.Hour

func connectToRabbitMQ(ctx context.Context, url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < MaxConnectRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			slog.Info("connected to rabbitmq")
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", i+1, "max_attempts", MaxConnectRetry, "error", err)
		if i == MaxConnectRetry-1 {
			break
		}

		timer := time.NewTimer(RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("gave up connecting to rabbitmq: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", MaxConnectRetry, err)
}

func declareRunEventsQueue(channel *amqp.Channel) error {
	_, err := channel.QueueDeclare(RunEventsQueue, true, false, false, false, amqp.Table{
		"x-message-ttl": runEventTTL.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("failed to declare rabbitmq queue %s: %w", RunEventsQueue, err)
	}
	return nil
}

func openConfirmChannel(ctx context.Context, url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := connectToRabbitMQ(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := declareRunEventsQueue(channel); err != nil {
		conn.Close()
		return nil, nil, err
	}

	return conn, channel, nil
}

var errPublisherClosed = errors.New("rabbitmq publisher is closed")

// RabbitMQPublisher publishes run events with publisher confirms. A broken
// connection is re-established on the next publish. The mutex only guards the
// connection fields, dialing happens outside of it.
type RabbitMQPublisher struct {
	mu      sync.Mutex
	url     string
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

func NewRabbitMQPublisher(ctx context.Context, rabbitMQURL string) (*RabbitMQPublisher, error) {
	conn, channel, err := openConfirmChannel(ctx, rabbitMQURL)
	if err != nil {
		return nil, err
	}
	return &RabbitMQPublisher{url: rabbitMQURL, conn: conn, channel: channel}, nil
}

func (p *RabbitMQPublisher) currentChannel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errPublisherClosed
	}
	if p.channel == nil || p.channel.IsClosed() {
		return nil, nil
	}
	return p.channel, nil
}

func (p *RabbitMQPublisher) reconnect(ctx context.Context) (*amqp.Channel, error) {
	slog.Warn("rabbitmq channel closed, reconnecting")

	conn, channel, err := openConfirmChannel(ctx, p.url)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		conn.Close()
		return nil, errPublisherClosed
	}
	if p.channel != nil && !p.channel.IsClosed() {
		// another publish reconnected first
		conn.Close()
		return p.channel, nil
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn, p.channel = conn, channel
	return channel, nil
}

func (p *RabbitMQPublisher) PublishRunEvent(ctx context.Context, event RunEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	channel, err := p.currentChannel()
	if err != nil {
		return err
	}
	if channel == nil {
		if channel, err = p.reconnect(ctx); err != nil {
			return err
		}
	}

	confirm, err := channel.PublishWithDeferredConfirmWithContext(ctx,
		"",             // default exchange
		RunEventsQueue, // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.Id.String(),
			Timestamp:    event.Timestamp,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for run event confirmation: %w", err)
	}
	if !acked {
		return errors.New("run event was nacked by the broker")
	}

	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	}
}

type RabbitMQTask struct {
	d amqp.Delivery
}

func (t *RabbitMQTask) Type() string {
	return t.d.RoutingKey
}

func (t *RabbitMQTask) Payload() []byte {
	return t.d.Body
}

func (t *RabbitMQTask) Ack() error {
	return t.d.Ack(false)
}

// Nack drops the event, run events are not worth redelivering.
func (t *RabbitMQTask) Nack() error {
	return t.d.Nack(false, false)
}

func (t *RabbitMQTask) Reject() error {
	return t.d.Reject(false)
}

// RabbitMQReceiver consumes run events for the events tail command.
type RabbitMQReceiver struct {
	conn  *amqp.Connection
	tasks chan Task
	once  sync.Once
}

func NewRabbitMQReceiver(ctx context.Context, rabbitMQURL string) (*RabbitMQReceiver, error) {
	conn, err := connectToRabbitMQ(ctx, rabbitMQURL)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := declareRunEventsQueue(channel); err != nil {
		conn.Close()
		return nil, err
	}

	msgs, err := channel.Consume(RunEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to consume from rabbitmq queue %s: %w", RunEventsQueue, err)
	}

	r := &RabbitMQReceiver{conn: conn, tasks: make(chan Task)}
	go func() {
		defer close(r.tasks)
		for d := range msgs {
			r.tasks <- &RabbitMQTask{d: d}
		}
	}()

	return r, nil
}

func (r *RabbitMQReceiver) Tasks() <-chan Task {
	return r.tasks
}

func (r *RabbitMQReceiver) Close() {
	r.once.Do(func() {
		if err := r.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	})
}

package messaging

import (
	"context"
	"log/slog"
)

// LogPublisher writes run events to the structured log. It is the default
// when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) PublishRunEvent(ctx context.Context, event RunEvent) error {
	slog.InfoContext(ctx, "assistant run finished",
		"event_id", event.Id,
		"thread_id", event.ThreadId,
		"run_id", event.RunId,
		"assistant_id", event.AssistantId,
		"outcome", event.Outcome,
		"status", event.Status,
		"replies", event.Replies,
		"duration_ms", event.DurationMs,
	)
	return nil
}

func (LogPublisher) Close() {}

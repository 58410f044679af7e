package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// RunEventProcessor drains run events from a receiver and keeps per outcome
// counts. It backs the events tail command.
type RunEventProcessor struct {
	reciever Reciever

	mu       sync.Mutex
	outcomes map[string]int
}

func NewRunEventProcessor(reciever Reciever) *RunEventProcessor {
	return &RunEventProcessor{
		reciever: reciever,
		outcomes: make(map[string]int),
	}
}

// Start blocks until the receiver's task channel is closed.
func (proc *RunEventProcessor) Start() {
	slog.Info("starting run event processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *RunEventProcessor) Stop() {
	slog.Info("stopping run event processor")
	proc.reciever.Close()
}

func (proc *RunEventProcessor) ProcessTask(task Task) {
	if task.Type() != RunEventsQueue {
		slog.Error("received task from unexpected queue", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	var event RunEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		slog.Error("error unmarshalling run event", "error", err)
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	proc.mu.Lock()
	proc.outcomes[event.Outcome]++
	proc.mu.Unlock()

	slog.InfoContext(context.Background(), "run event",
		"event_id", event.Id,
		"thread_id", event.ThreadId,
		"run_id", event.RunId,
		"assistant_id", event.AssistantId,
		"outcome", event.Outcome,
		"status", event.Status,
		"replies", event.Replies,
		"duration_ms", event.DurationMs,
	)

	if err := task.Ack(); err != nil {
		slog.Error("error acknowledging message", "error", err)
	}
}

// Outcomes returns a copy of the number of events seen per outcome.
func (proc *RunEventProcessor) Outcomes() map[string]int {
	proc.mu.Lock()
	defer proc.mu.Unlock()

	counts := make(map[string]int, len(proc.outcomes))
	for outcome, n := range proc.outcomes {
		counts[outcome] = n
	}
	return counts
}

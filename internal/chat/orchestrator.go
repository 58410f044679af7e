package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"assistant-proxy/internal/assistants"
	"assistant-proxy/internal/messaging"
	"assistant-proxy/internal/poller"

	"github.com/google/uuid"
)

// Orchestrator drives one user message through the Assistants API: resolve
// the thread, append the message, start a run, wait for it and collect the
// replies the run produced.
type Orchestrator struct {
	client             assistants.Client
	poller             *poller.Poller
	defaultAssistantID string
	events             messaging.Publisher
	locks              *threadLocks
	now                func() time.Time
}

type OrchestratorOption func(*Orchestrator)

// WithEvents sets where run events go. Publishing happens before the response
// is returned, so anything that talks to a broker should be wrapped in a
// messaging.AsyncPublisher.
func WithEvents(events messaging.Publisher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.events = events
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func NewOrchestrator(client assistants.Client, poller *poller.Poller, defaultAssistantID string, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client:             client,
		poller:             poller,
		defaultAssistantID: defaultAssistantID,
		events:             messaging.LogPublisher{},
		locks:              newThreadLocks(),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	req, err := Validate(req)
	if err != nil {
		return Response{}, err
	}

	assistantID := o.defaultAssistantID
	if req.AssistantID != nil {
		assistantID = *req.AssistantID
	}
	if assistantID == "" {
		slog.Error("assistant id is empty", "from_request", req.AssistantID != nil)
		return Response{}, newError(KindMisconfigured, MsgMissingAssistant, nil)
	}

	resp, err := o.converse(ctx, req, assistantID)
	if err != nil {
		slog.Error("error handling chat request", "assistant_id", assistantID, "kind", KindOf(err), "error", err)
		return Response{}, err
	}

	return resp, nil
}

func (o *Orchestrator) converse(ctx context.Context, req Request, assistantID string) (Response, error) {
	var threadID string
	if req.ThreadID != nil {
		threadID = *req.ThreadID
		if err := o.locks.Lock(ctx, threadID); err != nil {
			return Response{}, unexpected(err)
		}
		defer o.locks.Unlock(threadID)
	} else {
		id, err := o.client.CreateThread(ctx)
		if err != nil {
			return Response{}, unexpected(err)
		}
		threadID = id
	}

	if err := o.client.CreateMessage(ctx, threadID, assistants.RoleUser, req.Message); err != nil {
		return Response{}, unexpected(err)
	}

	runID, err := o.client.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return Response{}, unexpected(err)
	}

	start := o.now()
	event := messaging.RunEvent{ThreadId: threadID, RunId: runID, AssistantId: assistantID}

	lastStatus := ""
	err = o.poller.AwaitCompletion(ctx, func(ctx context.Context) (string, error) {
		status, err := o.client.RetrieveRun(ctx, threadID, runID)
		if err == nil {
			lastStatus = status
		}
		return status, err
	})
	event.Status = lastStatus

	if err != nil {
		cerr := pollError(err)
		event.Outcome = outcomeOf(cerr.Kind)
		o.publish(ctx, event, start)
		return Response{}, cerr
	}

	messages, err := o.client.ListMessages(ctx, threadID, assistants.OrderAsc)
	if err != nil {
		event.Outcome = messaging.OutcomeError
		o.publish(ctx, event, start)
		return Response{}, unexpected(err)
	}

	replies := FilterReplies(messages, runID, o.now())

	event.Outcome = messaging.OutcomeCompleted
	event.Replies = len(replies)
	o.publish(ctx, event, start)

	return Response{ThreadID: threadID, Messages: replies}, nil
}

// History returns the user and assistant messages of a thread in
// chronological order, keeping only the last limit messages when limit > 0.
func (o *Orchestrator) History(ctx context.Context, threadID string, limit int) ([]Reply, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, InvalidInput(MsgMissingThreadID)
	}

	messages, err := o.client.ListMessages(ctx, threadID, assistants.OrderAsc)
	if err != nil {
		slog.Error("error listing thread history", "thread_id", threadID, "error", err)
		return nil, unexpected(err)
	}

	now := o.now()
	history := make([]Reply, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != assistants.RoleUser && msg.Role != assistants.RoleAssistant {
			continue
		}
		if reply, ok := toReply(msg, now); ok {
			history = append(history, reply)
		}
	}

	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	return history, nil
}

func (o *Orchestrator) publish(ctx context.Context, event messaging.RunEvent, start time.Time) {
	event.Id = uuid.New()
	event.Timestamp = o.now().UTC()
	event.DurationMs = event.Timestamp.Sub(start).Milliseconds()

	if err := o.events.PublishRunEvent(ctx, event); err != nil {
		slog.Warn("failed to publish run event", "run_id", event.RunId, "error", err)
	}
}

// ExtractText joins the text blocks of a message with newlines.
func ExtractText(msg assistants.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == assistants.ContentTypeText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// FilterReplies keeps the assistant messages created by runID that have text.
func FilterReplies(messages []assistants.Message, runID string, now time.Time) []Reply {
	replies := make([]Reply, 0)
	for _, msg := range messages {
		if msg.Role != assistants.RoleAssistant || msg.RunID != runID {
			continue
		}
		if reply, ok := toReply(msg, now); ok {
			replies = append(replies, reply)
		}
	}
	return replies
}

func toReply(msg assistants.Message, now time.Time) (Reply, bool) {
	content := ExtractText(msg)
	if content == "" {
		return Reply{}, false
	}

	createdAt := now
	if msg.CreatedAt > 0 {
		createdAt = time.Unix(msg.CreatedAt, 0)
	}

	return Reply{ID: msg.ID, Role: msg.Role, Content: content, CreatedAt: createdAt.UTC()}, true
}

func pollError(err error) *Error {
	var timeout *poller.TimeoutError
	if errors.As(err, &timeout) {
		return newError(KindUpstreamTimeout, MsgTimeout, err)
	}

	var failure *poller.RunFailureError
	if errors.As(err, &failure) {
		return newError(KindUpstreamRunFailure, MsgRunFailurePrefix+failure.Status, err)
	}

	return unexpected(err)
}

func unexpected(err error) *Error {
	message, _, _ := strings.Cut(strings.TrimSpace(err.Error()), "\n")
	if message == "" {
		message = MsgUnexpected
	}
	return newError(KindUpstreamUnexpected, message, err)
}

func outcomeOf(kind Kind) string {
	switch kind {
	case KindUpstreamTimeout:
		return messaging.OutcomeTimedOut
	case KindUpstreamRunFailure:
		return messaging.OutcomeFailed
	default:
		return messaging.OutcomeError
	}
}

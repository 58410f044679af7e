package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"assistant-proxy/internal/assistants"
	"assistant-proxy/internal/chat"
	"assistant-proxy/internal/messaging"
	"assistant-proxy/internal/poller"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instantSleeper struct{}

func (instantSleeper) Sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

// steppingClock moves forward by step every time it is read.
type steppingClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func fastPoller() *poller.Poller {
	return poller.New(poller.WithSleeper(instantSleeper{}))
}

func strPtr(s string) *string {
	return &s
}

// stubClient serves a fixed message list and records the calls it receives.
type stubClient struct {
	runID    string
	statuses []string
	messages []assistants.Message
	listErr  error
	polls    int
	created  []string
}

func (s *stubClient) CreateThread(ctx context.Context) (string, error) {
	return "thread_new", nil
}

func (s *stubClient) CreateMessage(ctx context.Context, threadID, role, content string) error {
	s.created = append(s.created, threadID+"|"+role+"|"+content)
	return nil
}

func (s *stubClient) CreateRun(ctx context.Context, threadID, assistantID string) (string, error) {
	return s.runID, nil
}

func (s *stubClient) RetrieveRun(ctx context.Context, threadID, runID string) (string, error) {
	status := s.statuses[min(s.polls, len(s.statuses)-1)]
	s.polls++
	return status, nil
}

func (s *stubClient) ListMessages(ctx context.Context, threadID string, order assistants.Order) ([]assistants.Message, error) {
	return s.messages, s.listErr
}

func text(s string) assistants.ContentBlock {
	return assistants.ContentBlock{Type: assistants.ContentTypeText, Text: s}
}

func TestHandleNewThread(t *testing.T) {
	client := assistants.NewEchoClient(assistants.WithReply(func(s string) string { return "Resposta: " + s }))
	events := messaging.NewInMemoryQueue(10)
	orchestrator := chat.NewOrchestrator(client, fastPoller(), "asst_default", chat.WithEvents(events))

	resp, err := orchestrator.Handle(context.Background(), chat.Request{Message: "  Olá  "})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp.ThreadID, "thread_"))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, assistants.RoleAssistant, resp.Messages[0].Role)
	assert.Equal(t, "Resposta: Olá", resp.Messages[0].Content)
	assert.NotEmpty(t, resp.Messages[0].ID)

	task := <-events.Tasks()
	var event messaging.RunEvent
	require.NoError(t, json.Unmarshal(task.Payload(), &event))
	assert.Equal(t, messaging.OutcomeCompleted, event.Outcome)
	assert.Equal(t, "completed", event.Status)
	assert.Equal(t, resp.ThreadID, event.ThreadId)
	assert.Equal(t, "asst_default", event.AssistantId)
	assert.Equal(t, 1, event.Replies)
}

func TestHandleReusesThread(t *testing.T) {
	client := assistants.NewEchoClient()
	orchestrator := chat.NewOrchestrator(client, fastPoller(), "asst_default")
	ctx := context.Background()

	first, err := orchestrator.Handle(ctx, chat.Request{Message: "primeira"})
	require.NoError(t, err)

	second, err := orchestrator.Handle(ctx, chat.Request{Message: "segunda", ThreadID: strPtr(first.ThreadID)})
	require.NoError(t, err)

	assert.Equal(t, first.ThreadID, second.ThreadID)
	require.Len(t, second.Messages, 1)
	assert.Equal(t, "segunda", second.Messages[0].Content)

	history, err := orchestrator.History(ctx, first.ThreadID, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, []string{"primeira", "primeira", "segunda", "segunda"},
		[]string{history[0].Content, history[1].Content, history[2].Content, history[3].Content})
	assert.Equal(t, assistants.RoleUser, history[0].Role)
	assert.Equal(t, assistants.RoleAssistant, history[1].Role)

	last, err := orchestrator.History(ctx, first.ThreadID, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, second.Messages[0].ID, last[0].ID)
}

func TestHandleAssistantOverride(t *testing.T) {
	stub := &stubClient{runID: "run_1", statuses: []string{"completed"}}
	events := messaging.NewInMemoryQueue(10)
	orchestrator := chat.NewOrchestrator(stub, fastPoller(), "", chat.WithEvents(events))

	_, err := orchestrator.Handle(context.Background(), chat.Request{Message: "oi", AssistantID: strPtr("asst_custom")})
	require.NoError(t, err)

	task := <-events.Tasks()
	var event messaging.RunEvent
	require.NoError(t, json.Unmarshal(task.Payload(), &event))
	assert.Equal(t, "asst_custom", event.AssistantId)
	assert.Equal(t, []string{"thread_new|user|oi"}, stub.created)
}

func TestHandleValidation(t *testing.T) {
	client := assistants.NewEchoClient()
	orchestrator := chat.NewOrchestrator(client, fastPoller(), "asst_default")

	tests := []struct {
		name    string
		message string
		err     string
	}{
		{name: "empty", message: "", err: chat.MsgMessageRequired},
		{name: "whitespace", message: " \n\t ", err: chat.MsgMessageRequired},
		{name: "too long", message: strings.Repeat("a", 2001), err: chat.MsgMessageTooLong},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := orchestrator.Handle(context.Background(), chat.Request{Message: tc.message})
			require.Error(t, err)
			assert.Equal(t, chat.KindInvalidInput, chat.KindOf(err))
			assert.Equal(t, tc.err, chat.PublicMessage(err))
		})
	}

	assert.Equal(t, 0, client.Calls())
}

func TestValidateLimits(t *testing.T) {
	req, err := chat.Validate(chat.Request{Message: " " + strings.Repeat("é", 2000) + " ", ThreadID: strPtr(""), AssistantID: strPtr("")})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 2000), req.Message)
	assert.Nil(t, req.ThreadID)
	require.NotNil(t, req.AssistantID)
	assert.Empty(t, *req.AssistantID)
}

func TestHandleMisconfigured(t *testing.T) {
	client := assistants.NewEchoClient()
	orchestrator := chat.NewOrchestrator(client, fastPoller(), "")

	_, err := orchestrator.Handle(context.Background(), chat.Request{Message: "oi"})
	require.Error(t, err)
	assert.Equal(t, chat.KindMisconfigured, chat.KindOf(err))
	assert.Equal(t, chat.MsgMissingAssistant, chat.PublicMessage(err))
	assert.Equal(t, 0, client.Calls())
}

// An explicit empty assistant id does not fall back to the configured one.
func TestHandleEmptyAssistantOverride(t *testing.T) {
	client := assistants.NewEchoClient()
	orchestrator := chat.NewOrchestrator(client, fastPoller(), "asst_default")

	_, err := orchestrator.Handle(context.Background(), chat.Request{Message: "oi", AssistantID: strPtr("")})
	require.Error(t, err)
	assert.Equal(t, chat.KindMisconfigured, chat.KindOf(err))
	assert.Equal(t, chat.MsgMissingAssistant, chat.PublicMessage(err))
	assert.Equal(t, 0, client.Calls())

	_, err = orchestrator.Handle(context.Background(), chat.Request{Message: "oi", AssistantID: nil})
	require.NoError(t, err)
}

func TestHandleRunFailure(t *testing.T) {
	client := assistants.NewEchoClient(assistants.WithStatuses("queued", "cancelled"))
	events := messaging.NewInMemoryQueue(10)
	orchestrator := chat.NewOrchestrator(client, fastPoller(), "asst_default", chat.WithEvents(events))

	_, err := orchestrator.Handle(context.Background(), chat.Request{Message: "oi"})
	require.Error(t, err)
	assert.Equal(t, chat.KindUpstreamRunFailure, chat.KindOf(err))
	assert.Equal(t, "Execução do assistente finalizada com status: cancelled", chat.PublicMessage(err))

	var failure *poller.RunFailureError
	require.ErrorAs(t, err, &failure)

	task := <-events.Tasks()
	var event messaging.RunEvent
	require.NoError(t, json.Unmarshal(task.Payload(), &event))
	assert.Equal(t, messaging.OutcomeFailed, event.Outcome)
	assert.Equal(t, "cancelled", event.Status)
}

func TestHandleTimeout(t *testing.T) {
	client := assistants.NewEchoClient(assistants.WithStatuses("in_progress"))
	clock := &steppingClock{now: time.Unix(0, 0), step: 10 * time.Second}
	p := poller.New(poller.WithSleeper(instantSleeper{}), poller.WithClock(clock), poller.WithMaxWait(30*time.Second))
	orchestrator := chat.NewOrchestrator(client, p, "asst_default")

	_, err := orchestrator.Handle(context.Background(), chat.Request{Message: "oi"})
	require.Error(t, err)
	assert.Equal(t, chat.KindUpstreamTimeout, chat.KindOf(err))
	assert.Equal(t, chat.MsgTimeout, chat.PublicMessage(err))
}

func TestHandleUnknownThread(t *testing.T) {
	client := assistants.NewEchoClient()
	orchestrator := chat.NewOrchestrator(client, fastPoller(), "asst_default")

	_, err := orchestrator.Handle(context.Background(), chat.Request{Message: "oi", ThreadID: strPtr("thread_missing")})
	require.Error(t, err)
	assert.Equal(t, chat.KindUpstreamUnexpected, chat.KindOf(err))
	assert.Contains(t, chat.PublicMessage(err), "thread_missing")
}

func TestHandleListError(t *testing.T) {
	stub := &stubClient{runID: "run_1", statuses: []string{"completed"}, listErr: errors.New("upstream 502\nbody: bad gateway")}
	orchestrator := chat.NewOrchestrator(stub, fastPoller(), "asst_default")

	_, err := orchestrator.Handle(context.Background(), chat.Request{Message: "oi"})
	require.Error(t, err)
	assert.Equal(t, chat.KindUpstreamUnexpected, chat.KindOf(err))
	assert.Equal(t, "upstream 502", chat.PublicMessage(err))
}

func TestHandleFiltersRepliesByRun(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	stub := &stubClient{
		runID:    "run_current",
		statuses: []string{"queued", "completed"},
		messages: []assistants.Message{
			{ID: "msg_1", Role: assistants.RoleUser, Content: []assistants.ContentBlock{text("pergunta antiga")}},
			{ID: "msg_2", Role: assistants.RoleAssistant, RunID: "run_previous", CreatedAt: 1700000000, Content: []assistants.ContentBlock{text("resposta antiga")}},
			{ID: "msg_3", Role: assistants.RoleUser, Content: []assistants.ContentBlock{text("pergunta nova")}},
			{ID: "msg_4", Role: assistants.RoleAssistant, RunID: "run_current", CreatedAt: 1700000100, Content: []assistants.ContentBlock{
				text("linha 1"), {Type: "image_file"}, text("linha 2 "),
			}},
			{ID: "msg_5", Role: assistants.RoleAssistant, RunID: "run_current", Content: []assistants.ContentBlock{{Type: "image_file"}}},
			{ID: "msg_6", Role: assistants.RoleAssistant, RunID: "run_current", Content: []assistants.ContentBlock{text("sem data")}},
		},
	}
	orchestrator := chat.NewOrchestrator(stub, fastPoller(), "asst_default", chat.WithClock(func() time.Time { return now }))

	resp, err := orchestrator.Handle(context.Background(), chat.Request{Message: "pergunta nova", ThreadID: strPtr("thread_1")})
	require.NoError(t, err)

	assert.Equal(t, "thread_1", resp.ThreadID)
	assert.Equal(t, []chat.Reply{
		{ID: "msg_4", Role: assistants.RoleAssistant, Content: "linha 1\nlinha 2", CreatedAt: time.Unix(1700000100, 0).UTC()},
		{ID: "msg_6", Role: assistants.RoleAssistant, Content: "sem data", CreatedAt: now},
	}, resp.Messages)
	assert.Equal(t, 2, stub.polls)
}

func TestExtractText(t *testing.T) {
	assert.Equal(t, "", chat.ExtractText(assistants.Message{}))
	assert.Equal(t, "a\nb", chat.ExtractText(assistants.Message{Content: []assistants.ContentBlock{text(" a"), text(""), text("b \n")}}))
}

func TestHandleConcurrentSameThread(t *testing.T) {
	client := assistants.NewEchoClient()
	orchestrator := chat.NewOrchestrator(client, fastPoller(), "asst_default")
	ctx := context.Background()

	first, err := orchestrator.Handle(ctx, chat.Request{Message: "início"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = orchestrator.Handle(ctx, chat.Request{Message: "paralelo", ThreadID: strPtr(first.ThreadID)})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	history, err := orchestrator.History(ctx, first.ThreadID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 12)
}

// stalledPublisher does not return until release is closed, like a broker
// that stopped answering.
type stalledPublisher struct {
	release   chan struct{}
	published chan messaging.RunEvent
}

func (p *stalledPublisher) PublishRunEvent(ctx context.Context, event messaging.RunEvent) error {
	<-p.release
	p.published <- event
	return nil
}

func (p *stalledPublisher) Close() {}

func TestHandleDoesNotWaitForEvents(t *testing.T) {
	stalled := &stalledPublisher{release: make(chan struct{}), published: make(chan messaging.RunEvent, 1)}
	events := messaging.NewAsyncPublisher(stalled, 4, time.Second)

	client := assistants.NewEchoClient()
	orchestrator := chat.NewOrchestrator(client, fastPoller(), "asst_default", chat.WithEvents(events))

	type result struct {
		resp chat.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := orchestrator.Handle(context.Background(), chat.Request{Message: "oi"})
		done <- result{resp, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		close(stalled.release)
		t.Fatal("Handle waited for the event publisher")
	}
	require.NoError(t, res.err)
	require.Len(t, res.resp.Messages, 1)

	close(stalled.release)
	events.Close()

	event := <-stalled.published
	assert.Equal(t, res.resp.ThreadID, event.ThreadId)
	assert.Equal(t, messaging.OutcomeCompleted, event.Outcome)
}

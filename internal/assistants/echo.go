package assistants

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EchoClient is an in-process stand-in for the Assistants API used for local
// development and tests. Each run walks through the configured statuses, one
// per RetrieveRun call, and on completion the assistant answers with the
// reply function applied to the latest user message.
type EchoClient struct {
	mu       sync.Mutex
	threads  map[string]*echoThread
	runs     map[string]*echoRun
	statuses []string
	reply    func(string) string
	now      func() time.Time
	calls    atomic.Int64
}

type echoThread struct {
	messages  []Message
	activeRun string
}

type echoRun struct {
	threadID    string
	assistantID string
	polls       int
	answered    bool
}

type EchoOption func(*EchoClient)

// WithStatuses sets the sequence of statuses reported for every run. The last
// status repeats once the sequence is exhausted.
func WithStatuses(statuses ...string) EchoOption {
	return func(c *EchoClient) {
		if len(statuses) > 0 {
			c.statuses = statuses
		}
	}
}

func WithReply(reply func(string) string) EchoOption {
	return func(c *EchoClient) {
		c.reply = reply
	}
}

func WithEchoClock(now func() time.Time) EchoOption {
	return func(c *EchoClient) {
		c.now = now
	}
}

func NewEchoClient(opts ...EchoOption) *EchoClient {
	c := &EchoClient{
		threads:  make(map[string]*echoThread),
		runs:     make(map[string]*echoRun),
		statuses: []string{"queued", "in_progress", "completed"},
		reply:    func(text string) string { return text },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calls reports how many API operations have been made against the client.
func (c *EchoClient) Calls() int {
	return int(c.calls.Load())
}

func (c *EchoClient) CreateThread(ctx context.Context) (string, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()

	id := "thread_" + uuid.NewString()
	c.threads[id] = &echoThread{}
	return id, nil
}

// AddMessage appends a message to a thread directly, bypassing the API. It is
// used to seed threads with history.
func (c *EchoClient) AddMessage(threadID string, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	thread, ok := c.threads[threadID]
	if !ok {
		thread = &echoThread{}
		c.threads[threadID] = thread
	}
	if msg.ID == "" {
		msg.ID = "msg_" + uuid.NewString()
	}
	thread.messages = append(thread.messages, msg)
	return nil
}

func (c *EchoClient) CreateMessage(ctx context.Context, threadID, role, content string) error {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()

	thread, ok := c.threads[threadID]
	if !ok {
		return fmt.Errorf("no thread found with id '%s'", threadID)
	}
	if thread.activeRun != "" {
		return fmt.Errorf("can't add messages to %s while a run %s is active", threadID, thread.activeRun)
	}

	thread.messages = append(thread.messages, Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      role,
		CreatedAt: c.now().Unix(),
		Content:   []ContentBlock{{Type: ContentTypeText, Text: content}},
	})
	return nil
}

func (c *EchoClient) CreateRun(ctx context.Context, threadID, assistantID string) (string, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()

	thread, ok := c.threads[threadID]
	if !ok {
		return "", fmt.Errorf("no thread found with id '%s'", threadID)
	}
	if thread.activeRun != "" {
		return "", fmt.Errorf("thread %s already has an active run %s", threadID, thread.activeRun)
	}

	id := "run_" + uuid.NewString()
	c.runs[id] = &echoRun{threadID: threadID, assistantID: assistantID}
	thread.activeRun = id
	return id, nil
}

func (c *EchoClient) RetrieveRun(ctx context.Context, threadID, runID string) (string, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.runs[runID]
	if !ok || run.threadID != threadID {
		return "", fmt.Errorf("no run found with id '%s'", runID)
	}

	status := c.statuses[min(run.polls, len(c.statuses)-1)]
	run.polls++

	thread := c.threads[threadID]
	if status != "queued" && status != "in_progress" && thread.activeRun == runID {
		thread.activeRun = ""
	}

	if status == "completed" && !run.answered {
		run.answered = true
		thread.messages = append(thread.messages, Message{
			ID:        "msg_" + uuid.NewString(),
			Role:      RoleAssistant,
			RunID:     runID,
			CreatedAt: c.now().Unix(),
			Content:   []ContentBlock{{Type: ContentTypeText, Text: c.reply(lastUserText(thread.messages))}},
		})
	}

	return status, nil
}

func (c *EchoClient) ListMessages(ctx context.Context, threadID string, order Order) ([]Message, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()

	thread, ok := c.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("no thread found with id '%s'", threadID)
	}

	messages := make([]Message, len(thread.messages))
	copy(messages, thread.messages)
	if order == OrderDesc {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleUser {
			continue
		}
		for _, block := range messages[i].Content {
			if block.Type == ContentTypeText {
				return block.Text
			}
		}
	}
	return ""
}

package assistants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const listPageSize = 100

// OpenAIClient talks to the OpenAI Assistants (beta threads) API. It is safe
// for concurrent use and meant to be created once per process.
type OpenAIClient struct {
	client openai.Client
}

func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIClient{client: openai.NewClient(opts...)}, nil
}

func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		slog.Error("openai error: thread creation failed", "error", err)
		return "", fmt.Errorf("error creating thread: %w", err)
	}
	return thread.ID, nil
}

func (c *OpenAIClient) CreateMessage(ctx context.Context, threadID, role, content string) error {
	_, err := c.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRole(role),
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(content),
		},
	})
	if err != nil {
		slog.Error("openai error: message creation failed", "thread_id", threadID, "error", err)
		return fmt.Errorf("error adding message to thread: %w", err)
	}
	return nil
}

func (c *OpenAIClient) CreateRun(ctx context.Context, threadID, assistantID string) (string, error) {
	run, err := c.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		slog.Error("openai error: run creation failed", "thread_id", threadID, "assistant_id", assistantID, "error", err)
		return "", fmt.Errorf("error starting run: %w", err)
	}
	return run.ID, nil
}

func (c *OpenAIClient) RetrieveRun(ctx context.Context, threadID, runID string) (string, error) {
	run, err := c.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		slog.Error("openai error: run retrieval failed", "thread_id", threadID, "run_id", runID, "error", err)
		return "", fmt.Errorf("error retrieving run: %w", err)
	}
	return string(run.Status), nil
}

func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string, order Order) ([]Message, error) {
	params := openai.BetaThreadMessageListParams{
		Limit: openai.Int(listPageSize),
		Order: openai.BetaThreadMessageListParamsOrderAsc,
	}
	if order == OrderDesc {
		params.Order = openai.BetaThreadMessageListParamsOrderDesc
	}

	iter := c.client.Beta.Threads.Messages.ListAutoPaging(ctx, threadID, params)

	var messages []Message
	for iter.Next() {
		messages = append(messages, convertMessage(iter.Current()))
	}
	if err := iter.Err(); err != nil {
		slog.Error("openai error: message listing failed", "thread_id", threadID, "error", err)
		return nil, fmt.Errorf("error listing thread messages: %w", err)
	}

	return messages, nil
}

func convertMessage(m openai.Message) Message {
	msg := Message{
		ID:        m.ID,
		Role:      string(m.Role),
		RunID:     m.RunID,
		CreatedAt: m.CreatedAt,
	}
	for _, block := range m.Content {
		content := ContentBlock{Type: block.Type}
		if block.Type == ContentTypeText {
			content.Text = block.Text.Value
		}
		msg.Content = append(msg.Content, content)
	}
	return msg
}

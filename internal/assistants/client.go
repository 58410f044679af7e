package assistants

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	ContentTypeText = "text"
)

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

type ContentBlock struct {
	Type string
	Text string
}

type Message struct {
	ID        string
	Role      string
	RunID     string
	CreatedAt int64 // unix seconds, 0 if unknown
	Content   []ContentBlock
}

// Client is the subset of the Assistants API the proxy relies on.
type Client interface {
	CreateThread(ctx context.Context) (string, error)

	CreateMessage(ctx context.Context, threadID, role, content string) error

	CreateRun(ctx context.Context, threadID, assistantID string) (string, error)

	RetrieveRun(ctx context.Context, threadID, runID string) (string, error)

	ListMessages(ctx context.Context, threadID string, order Order) ([]Message, error)
}

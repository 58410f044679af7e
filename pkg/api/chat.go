package api

import "time"

type ChatRequest struct {
	Message     string  `json:"message"`
	ThreadID    *string `json:"threadId,omitempty"`
	AssistantID *string `json:"assistantId,omitempty"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatResponse struct {
	ThreadID string        `json:"threadId"`
	Messages []ChatMessage `json:"messages"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HistoryParams struct {
	Limit int `schema:"limit"`
}

type HistoryResponse struct {
	ThreadID string        `json:"threadId"`
	Messages []ChatMessage `json:"messages"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

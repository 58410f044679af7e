package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"assistant-proxy/internal/chat"
	"assistant-proxy/internal/ratelimit"
	"assistant-proxy/pkg/api"
)

type ChatService struct {
	orchestrator *chat.Orchestrator
	limiter      *ratelimit.Limiter
}

func NewChatService(orchestrator *chat.Orchestrator, limiter *ratelimit.Limiter) *ChatService {
	return &ChatService{
		orchestrator: orchestrator,
		limiter:      limiter,
	}
}

func (s *ChatService) AddRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Use(RateLimit(s.limiter))
		r.Post("/", RestHandler(s.SendMessage))
		r.Get("/{thread_id}/messages", RestHandler(s.GetHistory))
	})
	r.Get("/health", RestHandler(s.Health))
}

func (s *ChatService) SendMessage(r *http.Request) (any, error) {
	req, err := parseChatRequest(r)
	if err != nil {
		return nil, err
	}

	resp, err := s.orchestrator.Handle(r.Context(), chat.Request{
		Message:     req.Message,
		ThreadID:    req.ThreadID,
		AssistantID: req.AssistantID,
	})
	if err != nil {
		return nil, chatError(err)
	}

	return api.ChatResponse{ThreadID: resp.ThreadID, Messages: convertReplies(resp.Messages)}, nil
}

func (s *ChatService) GetHistory(r *http.Request) (any, error) {
	threadID := strings.TrimSpace(chi.URLParam(r, "thread_id"))
	if threadID == "" {
		return nil, CodedError(http.StatusBadRequest, errors.New(chat.MsgMissingThreadID))
	}

	params, err := ParseRequestQueryParams[api.HistoryParams](r)
	if err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "%s", chat.MsgInvalidQueryParam)
	}

	history, err := s.orchestrator.History(r.Context(), threadID, params.Limit)
	if err != nil {
		return nil, chatError(err)
	}

	return api.HistoryResponse{ThreadID: threadID, Messages: convertReplies(history)}, nil
}

func (s *ChatService) Health(r *http.Request) (any, error) {
	return api.HealthResponse{Status: "ok"}, nil
}

func convertReplies(replies []chat.Reply) []api.ChatMessage {
	messages := make([]api.ChatMessage, 0, len(replies))
	for _, reply := range replies {
		messages = append(messages, api.ChatMessage{
			ID:        reply.ID,
			Role:      reply.Role,
			Content:   reply.Content,
			CreatedAt: reply.CreatedAt,
		})
	}
	return messages
}

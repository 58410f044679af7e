package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"assistant-proxy/pkg/api"

	"github.com/go-resty/resty/v2"
)

// RateLimitedError is returned when the proxy rejects a request with 429.
type RateLimitedError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
}

// APIError carries the error message returned by the proxy.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

type ChatClient struct {
	client *resty.Client
}

func NewChatClient(baseURL string, timeout time.Duration) *ChatClient {
	return &ChatClient{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}
}

// Quota is the caller's remaining allowance as reported by the proxy.
type Quota struct {
	Remaining int
	Reset     time.Time
}

func (c *ChatClient) Send(ctx context.Context, req api.ChatRequest) (api.ChatResponse, Quota, error) {
	var resp api.ChatResponse

	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/api/chat")
	if err != nil {
		return resp, Quota{}, fmt.Errorf("error sending chat request: %w", err)
	}

	quota := quotaOf(res)
	if err := checkResponse(res); err != nil {
		return resp, quota, err
	}

	if err := json.Unmarshal(res.Body(), &resp); err != nil {
		return resp, quota, fmt.Errorf("error parsing chat response: %w", err)
	}
	return resp, quota, nil
}

func (c *ChatClient) History(ctx context.Context, threadID string, limit int) (api.HistoryResponse, error) {
	var resp api.HistoryResponse

	r := c.client.R().SetContext(ctx).SetPathParam("thread_id", threadID)
	if limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(limit))
	}

	res, err := r.Get("/api/chat/{thread_id}/messages")
	if err != nil {
		return resp, fmt.Errorf("error requesting history: %w", err)
	}
	if err := checkResponse(res); err != nil {
		return resp, err
	}

	if err := json.Unmarshal(res.Body(), &resp); err != nil {
		return resp, fmt.Errorf("error parsing history response: %w", err)
	}
	return resp, nil
}

func checkResponse(res *resty.Response) error {
	if res.IsSuccess() {
		return nil
	}

	var body api.ErrorResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil || body.Error == "" {
		body.Error = res.String()
	}

	if res.StatusCode() == 429 {
		secs, _ := strconv.Atoi(res.Header().Get("Retry-After"))
		return &RateLimitedError{Message: body.Error, RetryAfter: time.Duration(secs) * time.Second}
	}

	return &APIError{StatusCode: res.StatusCode(), Message: body.Error}
}

func quotaOf(res *resty.Response) Quota {
	var quota Quota
	quota.Remaining, _ = strconv.Atoi(res.Header().Get("X-RateLimit-Remaining"))
	if ms, err := strconv.ParseInt(res.Header().Get("X-RateLimit-Reset"), 10, 64); err == nil {
		quota.Reset = time.UnixMilli(ms)
	}
	return quota
}

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"assistant-proxy/internal/chat"
	"assistant-proxy/pkg/api"
)

// jsonType names the type of a raw JSON value the way the widget's error
// messages do.
func jsonType(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "undefined"
	}
	switch raw[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

func badRequest(msg string) error {
	return CodedError(http.StatusBadRequest, errors.New(msg))
}

// parseChatRequest decodes a chat request body and reports the first problem
// with its shape. Fields are checked in order (message, threadId, assistantId)
// and the message content rules apply before the optional fields are looked
// at.
func parseChatRequest(r *http.Request) (api.ChatRequest, error) {
	var req api.ChatRequest

	raw, err := ParseRequest[json.RawMessage](r)
	if err != nil {
		return req, err
	}

	if typ := jsonType(raw); typ != "object" {
		return req, badRequest(chat.MsgExpected("object", typ))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		slog.Error("error parsing request fields", "error", err)
		return req, badRequest(chat.MsgInvalidRequest)
	}

	message, ok := fields["message"]
	if !ok {
		return req, badRequest(chat.MsgRequired)
	}
	if typ := jsonType(message); typ != "string" {
		return req, badRequest(chat.MsgExpected("string", typ))
	}
	if err := json.Unmarshal(message, &req.Message); err != nil {
		return req, badRequest(chat.MsgInvalidRequest)
	}
	if _, err := chat.Validate(chat.Request{Message: req.Message}); err != nil {
		return req, chatError(err)
	}

	optional := []struct {
		name string
		dst  **string
	}{
		{"threadId", &req.ThreadID},
		{"assistantId", &req.AssistantID},
	}
	for _, field := range optional {
		value, ok := fields[field.name]
		if !ok {
			continue
		}
		switch typ := jsonType(value); typ {
		case "null":
		case "string":
			if err := json.Unmarshal(value, field.dst); err != nil {
				return req, badRequest(chat.MsgInvalidRequest)
			}
		default:
			return req, badRequest(chat.MsgExpected("string", typ))
		}
	}

	return req, nil
}

package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

const MaxMessageLength = 2000

type Request struct {
	Message     string
	ThreadID    *string
	AssistantID *string
}

type Reply struct {
	ID        string
	Role      string
	Content   string
	CreatedAt time.Time
}

type Response struct {
	ThreadID string
	Messages []Reply
}

// Validate trims the message and checks it in order: present, then not longer
// than MaxMessageLength characters. An empty thread id is treated as absent.
// An empty assistant id is kept, it overrides the default and is rejected by
// Handle.
func Validate(req Request) (Request, error) {
	req.Message = strings.TrimSpace(req.Message)

	if req.Message == "" {
		return req, InvalidInput(MsgMessageRequired)
	}
	if utf8.RuneCountInString(req.Message) > MaxMessageLength {
		return req, InvalidInput(MsgMessageTooLong)
	}

	req.ThreadID = nonEmpty(req.ThreadID)

	return req, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

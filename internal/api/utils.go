package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"assistant-proxy/internal/chat"
	"assistant-proxy/pkg/api"

	"github.com/gorilla/schema"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(code int, err error) error {
	return &codedError{err: err, code: code}
}

func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

// ParseRequest decodes the JSON body, which must hold exactly one JSON value.
// Malformed JSON and well formed JSON with the wrong shape are reported with
// different messages.
func ParseRequest[T any](r *http.Request) (T, error) {
	var data T
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&data); err != nil {
		slog.Error("error parsing request body", "error", err)

		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return data, CodedError(http.StatusBadRequest, errors.New(chat.MsgInvalidRequest))
		}
		return data, CodedError(http.StatusBadRequest, errors.New(chat.MsgInvalidJSON))
	}

	if _, err := dec.Token(); err != io.EOF {
		slog.Error("unexpected data after request body", "error", err)
		return data, CodedError(http.StatusBadRequest, errors.New(chat.MsgInvalidJSON))
	}

	return data, nil
}

func ParseRequestQueryParams[T any](r *http.Request) (T, error) {
	var data T
	if err := r.ParseForm(); err != nil {
		slog.Error("error parsing form", "error", err)
		return data, CodedError(http.StatusBadRequest, errors.New(chat.MsgInvalidQueryParam))
	}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(&data, r.Form); err != nil {
		slog.Error("error decoding query params", "error", err)
		return data, CodedError(http.StatusBadRequest, errors.New(chat.MsgInvalidQueryParam))
	}

	return data, nil
}

// statusOf maps orchestrator error kinds to HTTP status codes.
func statusOf(kind chat.Kind) int {
	switch kind {
	case chat.KindInvalidInput:
		return http.StatusBadRequest
	case chat.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// chatError converts an orchestrator error into a coded error carrying only
// the public message.
func chatError(err error) error {
	return CodedError(statusOf(chat.KindOf(err)), errors.New(chat.PublicMessage(err)))
}

func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			var cerr *codedError
			if errors.As(err, &cerr) {
				WriteJsonError(w, cerr.code, err.Error())
				if cerr.code == http.StatusInternalServerError {
					slog.Error("internal server error received in endpoint", "error", err)
				}
			} else {
				slog.Error("recieved non coded error from endpoint", "error", err)
				WriteJsonError(w, http.StatusInternalServerError, chat.MsgUnexpected)
			}
			return
		}

		if res == nil {
			res = struct{}{}
		}

		WriteJsonResponse(w, http.StatusOK, res)
	}
}

func WriteJsonResponse(w http.ResponseWriter, code int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
		WriteJsonError(w, http.StatusInternalServerError, chat.MsgUnexpected)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		slog.Error("error writing response body", "error", err)
	}
}

func WriteJsonError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(api.ErrorResponse{Error: message}); err != nil {
		slog.Error("error writing error response", "error", err)
	}
}

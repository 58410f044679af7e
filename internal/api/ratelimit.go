package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"assistant-proxy/internal/chat"
	"assistant-proxy/internal/ratelimit"
)

const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// RateLimit charges every request against the caller's quota before the
// handler runs. A request over quota is answered with 429 without reaching
// the handler. If the limiter backend is unavailable the request is let
// through without quota headers.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := ratelimit.ClientIdentifier(r)

			result, err := limiter.Check(r.Context(), identifier)
			if err != nil {
				slog.Warn("rate limiter unavailable, allowing request", "identifier", identifier, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set(HeaderRemaining, strconv.Itoa(result.Remaining))
			w.Header().Set(HeaderReset, strconv.FormatInt(result.Reset.UnixMilli(), 10))

			if !result.Success {
				retryAfter := result.RetryAfter(limiter.Now())
				slog.Info("rate limit exceeded", "identifier", identifier, "retry_after", retryAfter)
				w.Header().Set(HeaderRetryAfter, strconv.Itoa(retryAfter))
				WriteJsonError(w, http.StatusTooManyRequests, chat.MsgRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

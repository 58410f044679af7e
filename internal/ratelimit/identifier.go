package ratelimit

import (
	"net/http"
	"strings"
)

const AnonymousIdentifier = "anonymous"

var identifierHeaders = []string{
	"X-Forwarded-For",
	"X-Real-Ip",
	"Cf-Connecting-Ip",
	"True-Client-Ip",
	"X-Vercel-Forwarded-For",
}

// ClientIdentifier derives the rate limit key for a request from the address
// revealing headers set by proxies in front of the server.
func ClientIdentifier(r *http.Request) string {
	for _, header := range identifierHeaders {
		if value := r.Header.Get(header); value != "" {
			return firstElement(value)
		}
	}

	if forwarded := r.Header.Get("Forwarded"); forwarded != "" {
		for _, part := range strings.Split(forwarded, ";") {
			part = strings.TrimSpace(part)
			if !strings.HasPrefix(strings.ToLower(part), "for=") {
				continue
			}
			value := strings.ReplaceAll(part[len("for="):], `"`, "")
			return firstElement(value)
		}
	}

	return AnonymousIdentifier
}

func firstElement(value string) string {
	first, _, _ := strings.Cut(value, ",")
	return strings.TrimSpace(first)
}

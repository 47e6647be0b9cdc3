package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"autorec/internal/services"
)

// Kind classifies an APIError for callers and operator messages.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindAuth        Kind = "auth"
	KindBadRequest  Kind = "bad_request"
	KindServer      Kind = "server"
	KindNetwork     Kind = "network"
)

// APIError is returned once a request fails permanently or the attempt budget
// is exhausted. Status is zero for network failures.
type APIError struct {
	Status     int
	Message    string
	Kind       Kind
	RetryAfter time.Duration
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("api request failed after %d attempt(s): %s", e.Attempts, e.Message)
	}
	return fmt.Sprintf("api request failed after %d attempt(s): http %d: %s", e.Attempts, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Is maps the error onto the shared service markers.
func (e *APIError) Is(target error) bool {
	switch target {
	case services.ErrTransient:
		return e.Kind == KindRateLimited || e.Kind == KindServer || e.Kind == KindNetwork
	case services.ErrConfiguration:
		return e.Kind == KindAuth
	case services.ErrValidation:
		return e.Kind == KindBadRequest
	}
	return false
}

// Retryable reports whether another attempt could succeed.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServer, KindNetwork:
		return true
	}
	return false
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status >= http.StatusInternalServerError:
		return KindServer
	default:
		return KindBadRequest
	}
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// parseErrorMessage pulls a human readable message out of an error body. It
// understands {"error":{"message":...}}, {"error":"..."} and {"message":...}.
func parseErrorMessage(status int, body []byte) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		if raw, ok := payload["error"]; ok {
			var nested struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(raw, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
				return strings.TrimSpace(nested.Message)
			}
			var text string
			if err := json.Unmarshal(raw, &text); err == nil && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
		}
		if raw, ok := payload["message"]; ok {
			var text string
			if err := json.Unmarshal(raw, &text); err == nil && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
		}
	}
	if snippet := summarizeSnippet(string(body)); snippet != "" {
		return snippet
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", status)
}

func summarizeSnippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}

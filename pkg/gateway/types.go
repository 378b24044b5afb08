package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimited is returned when the upstream gateway throttles the caller.
	ErrRateLimited = errors.New("gateway rate limited")

	// ErrQuotaExceeded is returned when the upstream account has run out of credit.
	ErrQuotaExceeded = errors.New("gateway quota exceeded")
)

// ChatRequest is a single-turn chat completion request.
type ChatRequest struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Gateway is the core interface for chat-completion backends.
type Gateway interface {
	// Name returns the backend identifier (e.g., "openai", "gemini").
	Name() string

	// Model returns the model used when a request does not name one.
	Model() string

	// Complete sends the request and returns the assistant's reply text.
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// StatusError is returned for non-success upstream responses that carry no
// more specific meaning.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: upstream returned status %d", e.Backend, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream returned status %d: %s", e.Backend, e.StatusCode, e.Body)
}

// classifyStatus maps upstream HTTP statuses onto the package sentinels.
func classifyStatus(backend string, status int, body string) error {
	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", backend, ErrRateLimited)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%s: %w", backend, ErrQuotaExceeded)
	default:
		return &StatusError{Backend: backend, StatusCode: status, Body: body}
	}
}

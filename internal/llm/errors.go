package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimited is returned when the inference service throttles the caller.
	ErrRateLimited = errors.New("inference rate limited")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("inference returned no text")
)

// APIError describes a non-success response from an inference backend.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Cause }

func newAPIError(provider string, status int, message string) *APIError {
	var cause error
	if status == http.StatusTooManyRequests {
		cause = ErrRateLimited
	}
	return &APIError{Provider: provider, StatusCode: status, Message: message, Cause: cause}
}

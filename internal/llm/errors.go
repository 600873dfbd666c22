package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey is returned before any network call when no key is configured.
	ErrMissingAPIKey = errors.New("llmclient: api key is not configured")
	// ErrInvalidRequest wraps request validation and size-guard failures.
	ErrInvalidRequest = errors.New("llmclient: invalid request")
	// ErrMalformedResponse is returned when a 2xx body lacks the fields we map.
	ErrMalformedResponse = errors.New("llmclient: malformed upstream response")
)

// UpstreamError is a non-2xx answer from the provider.
type UpstreamError struct {
	StatusCode int
	// Message is the provider's error.message, if the body carried one.
	Message string
	Type    string
	// Body is the raw (truncated) response body.
	Body string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		if e.Type != "" {
			return fmt.Sprintf("llmclient: upstream %d: %s (%s)", e.StatusCode, e.Message, e.Type)
		}
		return fmt.Sprintf("llmclient: upstream %d: %s", e.StatusCode, e.Message)
	}
	if e.Body != "" {
		return fmt.Sprintf("llmclient: upstream %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("llmclient: upstream %d", e.StatusCode)
}

// Detail returns the most specific human-readable description available.
func (e *UpstreamError) Detail() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Body != "":
		return e.Body
	default:
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
}

package relay

import (
	"context"
	"errors"
	"net"
	"net/url"

	"chatrelay/internal/llm"
)

// Kind classifies why a relay call failed.
type Kind string

const (
	KindInvalidArgument           Kind = "invalid_argument"
	KindMissingConfiguration      Kind = "missing_configuration"
	KindUpstreamFailure           Kind = "upstream_failure"
	KindMalformedUpstreamResponse Kind = "malformed_upstream_response"
	KindTimeout                   Kind = "timeout"
)

// Upstream reports whether the failure happened while talking to the model API.
func (k Kind) Upstream() bool {
	switch k {
	case KindUpstreamFailure, KindMalformedUpstreamResponse, KindTimeout:
		return true
	}
	return false
}

const (
	msgEmptyMessage     = "message must not be empty"
	msgInvalidRequest   = "invalid request"
	msgMissingAPIKey    = "DEEPSEEK_API_KEY is not configured"
	msgUpstreamFailure  = "failed to call DeepSeek API"
	msgMalformedReply   = "DeepSeek API returned an unexpected response"
	msgUpstreamTimeout  = "DeepSeek API request timed out"
	msgRequestCancelled = "request cancelled"
)

// Error is the single error type returned by SendMessage.
type Error struct {
	Kind Kind
	// Message is a stable human-readable summary.
	Message string
	// Details carries the upstream's own error text when there is one.
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a relay error, or "" for any other error.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ""
}

// IsKind reports whether err is a relay error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func newError(kind Kind, message, details string, err error) *Error {
	return &Error{Kind: kind, Message: message, Details: details, Err: err}
}

// classify folds an llm client error into the relay taxonomy.
func classify(err error) *Error {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}

	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		return newError(KindMissingConfiguration, msgMissingAPIKey, "", err)
	case errors.Is(err, llm.ErrInvalidRequest):
		return newError(KindInvalidArgument, msgInvalidRequest, err.Error(), err)
	case errors.Is(err, llm.ErrMalformedResponse):
		return newError(KindMalformedUpstreamResponse, msgMalformedReply, err.Error(), err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, msgUpstreamTimeout, transportDetail(err), err)
	case errors.Is(err, context.Canceled):
		return newError(KindUpstreamFailure, msgUpstreamFailure, msgRequestCancelled, err)
	}

	var uerr *llm.UpstreamError
	if errors.As(err, &uerr) {
		return newError(KindUpstreamFailure, msgUpstreamFailure, uerr.Detail(), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindTimeout, msgUpstreamTimeout, transportDetail(err), err)
	}

	return newError(KindUpstreamFailure, msgUpstreamFailure, transportDetail(err), err)
}

// transportDetail drops our own wrapping so callers see the transport's message.
func transportDetail(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return uerr.Err.Error()
	}
	return err.Error()
}

package graph

import (
	"errors"
	"strings"

	"chatrelay/internal/relay"
)

// graphError is a resolver error carrying its relay kind as extensions.code.
type graphError struct {
	message string
	code    string
	err     error
}

func (e *graphError) Error() string {
	return e.message
}

func (e *graphError) Unwrap() error {
	return e.err
}

func (e *graphError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.code}
}

// toGraphError folds a relay failure into a single message. Validation and
// configuration errors keep their own text; upstream errors are prefixed and
// carry the upstream's details.
func toGraphError(err error) *graphError {
	var rerr *relay.Error
	if !errors.As(err, &rerr) {
		return &graphError{message: err.Error(), code: "INTERNAL", err: err}
	}

	code := strings.ToUpper(string(rerr.Kind))
	if !rerr.Kind.Upstream() {
		return &graphError{message: rerr.Error(), code: code, err: err}
	}

	details := rerr.Details
	if details == "" {
		details = rerr.Message
	}
	return &graphError{message: upstreamError + ": " + details, code: code, err: err}
}

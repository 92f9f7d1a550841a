package mp

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies upstream failures. The values double as tool error
// types.
type ErrorKind string

const (
	KindAPI         ErrorKind = "mp_api_error"
	KindTimeout     ErrorKind = "upstream_timeout"
	KindRateLimited ErrorKind = "upstream_rate_limited"
)

// ErrNoAPIKey is returned by NewClient when the key is empty.
var ErrNoAPIKey = errors.New("materials project API key is required")

// ErrNotFound is returned when the API answers with no matching documents.
var ErrNotFound = errors.New("no matching documents")

// APIError is a failed Materials Project request.
type APIError struct {
	Kind    ErrorKind
	Status  int // HTTP status, 0 for transport errors
	Message string
	Err     error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("materials project: %s (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("materials project: %s: %s", e.Kind, msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" if err did not come from
// the client.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return ""
}

func classifyStatus(status int) ErrorKind {
	if status == 429 {
		return KindRateLimited
	}
	return KindAPI
}

func transportError(err error) *APIError {
	kind := KindAPI
	if isTimeout(err) {
		kind = KindTimeout
	}
	return &APIError{Kind: kind, Err: err}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"career-compass/internal/domain"
)

type ErrorCode string

const (
	ErrorNotReady           ErrorCode = "NOT_READY"
	ErrorBusy               ErrorCode = "BUSY"
	ErrorNetworkFailure     ErrorCode = "NETWORK_FAILURE"
	ErrorMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"
	ErrorPersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("session: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("session: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the session error code carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var sessErr *Error
	if !errors.As(err, &sessErr) {
		return "", false
	}
	return sessErr.Code, true
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// classifyUpstream maps an inference failure onto the session taxonomy. op
// prefixes the reason, e.g. "chat" -> "chat_timeout".
func classifyUpstream(op string, err error) *Error {
	switch {
	case errors.Is(err, domain.ErrMalformedResponse):
		return newError(ErrorMalformedResponse, op+"_malformed_response", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorNetworkFailure, op+"_timeout", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorNetworkFailure, "rate_limited", err)
	}
	return newError(ErrorNetworkFailure, op+"_error", err)
}

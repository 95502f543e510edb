package datasource

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthKind classifies authentication failures.
type AuthKind string

const (
	AuthProtocolMismatch AuthKind = "protocol_mismatch"
	AuthRejected         AuthKind = "rejected"
	AuthTransport        AuthKind = "transport"
	AuthExpired          AuthKind = "expired"
)

// AuthError is fatal for the query that triggered it.
type AuthError struct {
	Kind   AuthKind
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("datasource auth %s", e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// ToolKind classifies tool call failures.
type ToolKind string

const (
	ToolUnavailable ToolKind = "unavailable"
	ToolRemote      ToolKind = "remote"
)

// ToolError is recorded as a data gap for the affected source.
type ToolError struct {
	Tool   string
	Kind   ToolKind
	Status int
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("tool %s %s", e.Tool, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *ToolError) Retryable() bool {
	if e.Kind == ToolUnavailable {
		return true
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ErrBreakerOpen is wrapped by ToolError while the circuit is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// ErrNoSession is wrapped by AuthError when a call is made without a session.
var ErrNoSession = errors.New("no authenticated session")

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Kinds
// --------------------------------------------------------------------------

// ErrorKind classifies a fatal protocol failure.
// Framing stalls (not enough bytes buffered yet) are not errors and have no kind.
type ErrorKind uint8

const (
	// KindProtocolViolation: an unexpected operation code (or malformed frame) arrived
	KindProtocolViolation ErrorKind = iota + 1
	// KindRemoteError: the server answered with an explicit error frame
	KindRemoteError
	// KindTransportError: TLS handshake failure or generic I/O error
	KindTransportError
	// KindConnectionClosed: the connection closed before a response arrived
	KindConnectionClosed
	// KindTimeout: no response within the configured read timeout
	KindTimeout
	// KindIllegalState: internal consistency failure (a frame arrived in a state that never expects one)
	KindIllegalState
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindProtocolViolation:
		return "protocol violation"
	case KindRemoteError:
		return "remote error"
	case KindTransportError:
		return "transport error"
	case KindConnectionClosed:
		return "connection closed"
	case KindTimeout:
		return "timeout"
	case KindIllegalState:
		return "illegal state"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind. Every *Error matches the sentinel of its kind
// with errors.Is.
var (
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation}
	ErrRemote            = &Error{Kind: KindRemoteError}
	ErrTransport         = &Error{Kind: KindTransportError}
	ErrConnectionClosed  = &Error{Kind: KindConnectionClosed}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrIllegalState      = &Error{Kind: KindIllegalState}
)

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// Error is the error type of all fatal protocol failures.
// Code is only set for KindRemoteError (the server's error code).
type Error struct {
	Kind ErrorKind
	Code uint32
	Msg  string
	Err  error // underlying cause, if any
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindRemoteError:
		return fmt.Sprintf("%s (code %d): %s", e.Kind, e.Code, e.Msg)
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel (or any *Error) of the same kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the failure says nothing about the server's opinion
// of this client, so the same request may succeed against another node.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConnectionClosed, KindTimeout, KindTransportError:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Error Factory Functions
// --------------------------------------------------------------------------

// NewProtocolViolation creates an error for an unexpected operation code
func NewProtocolViolation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindProtocolViolation, Msg: fmt.Sprintf(format, args...)}
}

// NewUnexpectedCode creates a protocol violation naming the unexpected code
func NewUnexpectedCode(got MessageCode, want ...MessageCode) *Error {
	return NewProtocolViolation("unexpected message code %s, expected one of %v", got, want)
}

// NewRemoteError creates an error from the server's error response
func NewRemoteError(code uint32, msg string) *Error {
	return &Error{Kind: KindRemoteError, Code: code, Msg: msg}
}

// NewTransportError wraps a TLS or I/O error
func NewTransportError(msg string, err error) *Error {
	return &Error{Kind: KindTransportError, Msg: msg, Err: err}
}

// NewConnectionClosed creates an error for a connection that closed before a response arrived
func NewConnectionClosed(msg string) *Error {
	return &Error{Kind: KindConnectionClosed, Msg: msg}
}

// NewTimeout creates an error for an exchange whose response did not arrive in time
func NewTimeout(msg string) *Error {
	return &Error{Kind: KindTimeout, Msg: msg}
}

// NewIllegalState creates an error for an internal consistency failure
func NewIllegalState(format string, args ...interface{}) *Error {
	return &Error{Kind: KindIllegalState, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or 0 if err is not an *Error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRetryable reports whether err is a retryable *Error
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

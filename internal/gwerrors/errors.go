// Package gwerrors defines the gateway's stable error taxonomy (spec §7)
// and the uniform JSON envelope returned to HTTP clients.
package gwerrors

import (
	"fmt"
	"net/http"
)

// Kind is one of the stable error codes surfaced across the gateway.
type Kind string

const (
	Unauthorized      Kind = "UNAUTHORIZED"
	RateLimited       Kind = "RATE_LIMITED"
	NotFound          Kind = "NOT_FOUND"
	NoHealthyInstance Kind = "NO_HEALTHY_INSTANCE"
	Timeout           Kind = "TIMEOUT"
	BreakerOpen       Kind = "BREAKER_OPEN"
	QueueFull         Kind = "QUEUE_FULL"
	ConnectError      Kind = "CONNECT_ERROR"
	ProtocolError     Kind = "PROTOCOL_ERROR"
	Internal          Kind = "INTERNAL"
	InvalidArgument   Kind = "INVALID_ARGUMENT"
	Closed            Kind = "CLOSED"
	NotConnected      Kind = "NOT_CONNECTED"
	WriteError        Kind = "WRITE_ERROR"
	PreconditionFail  Kind = "PRECONDITION_FAILED"
)

// Error is the gateway's single result-or-error type. Every component
// returns one of these (or nil) instead of ad-hoc error strings, so the
// HTTP layer can map Kind to a status code and a recoverable hint without
// string matching.
type Error struct {
	Kind        Kind
	Message     string
	Recoverable bool
	Meta        map[string]interface{}
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Recoverable: defaultRecoverable(kind)}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Recoverable: defaultRecoverable(kind)}
}

func defaultRecoverable(kind Kind) bool {
	switch kind {
	case Unauthorized, RateLimited, Timeout, BreakerOpen, QueueFull, ConnectError:
		return true
	default:
		return false
	}
}

// As extracts a *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil, false
}

// HTTPStatus maps a Kind to the status code the control surface returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthorized:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case NotFound:
		return http.StatusNotFound
	case NoHealthyInstance:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	case BreakerOpen:
		return http.StatusServiceUnavailable
	case QueueFull:
		return http.StatusTooManyRequests
	case ConnectError:
		return http.StatusBadGateway
	case ProtocolError:
		return http.StatusBadGateway
	case InvalidArgument:
		return http.StatusBadRequest
	case PreconditionFail:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the uniform `{ success, error }` JSON shape from spec §6.
type Envelope struct {
	Success bool          `json:"success"`
	Error   *EnvelopeBody `json:"error,omitempty"`
}

type EnvelopeBody struct {
	Message     string                 `json:"message"`
	Code        Kind                   `json:"code"`
	Recoverable bool                   `json:"recoverable"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
}

// ToEnvelope converts any error into the uniform failure envelope,
// classifying non-*Error values as Internal.
func ToEnvelope(err error) Envelope {
	gwErr, ok := As(err)
	if !ok {
		gwErr = Wrap(Internal, err, "internal error")
	}
	return Envelope{
		Success: false,
		Error: &EnvelopeBody{
			Message:     gwErr.Message,
			Code:        gwErr.Kind,
			Recoverable: gwErr.Recoverable,
			Meta:        gwErr.Meta,
		},
	}
}

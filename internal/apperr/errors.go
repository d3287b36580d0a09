// Package apperr is the single error type shared by the store, the
// verification state machine, the resolver and the edge router. Every
// failure carries a Kind instead of living in its own type.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and HTTP mapping decisions.
type Kind string

const (
	// KindValidation is bad input surfaced to the user at registration time.
	KindValidation Kind = "validation"

	// KindConflict is a uniqueness violation, e.g. a duplicate domain.
	KindConflict Kind = "conflict"

	// KindNotFound means the requested record does not exist.
	KindNotFound Kind = "not_found"

	// KindTransient covers DNS timeouts and provider API errors. Retried.
	KindTransient Kind = "transient"

	// KindPermanent means verification gave up, either because the
	// provider rejected the hostname or the attempt budget ran out.
	KindPermanent Kind = "permanent"

	// KindResolverUnavailable is a network failure between edge and backend.
	KindResolverUnavailable Kind = "resolver_unavailable"

	// KindInternal is everything else.
	KindInternal Kind = "internal"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a kind to an underlying error. A nil err yields nil.
func Wrap(kind Kind, op string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func Validation(op, message string) *Error {
	return New(KindValidation, op, message)
}

func Conflict(op, message string) *Error {
	return New(KindConflict, op, message)
}

func NotFound(op, message string) *Error {
	return New(KindNotFound, op, message)
}

func Transient(op string, err error) error {
	return Wrap(KindTransient, op, err, "")
}

func Permanent(op, message string) *Error {
	return New(KindPermanent, op, message)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal
// for foreign errors. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the state machine should try again later.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindResolverUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error to the status the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient, KindResolverUnavailable:
		return http.StatusServiceUnavailable
	case KindPermanent:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message of err. Internal errors are not
// echoed back to clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		if e.Message != "" {
			return e.Message
		}
		if IsRetryable(e) {
			return "Service temporarily unavailable"
		}
		return string(e.Kind)
	}
	return "Internal server error"
}
